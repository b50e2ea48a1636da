package repository

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"github.com/ponyo877/collab/server/domain"
	"github.com/ponyo877/collab/server/usecase"
)

const driverName = "sqlite3_with_go_func"

var registerOnce sync.Once

func regex(re, s string) (bool, error) {
	return regexp.MatchString(re, s)
}

// Open opens the sqlite database at path with the REGEXP function available
// and applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	registerOnce.Do(func() {
		sql.Register(driverName,
			&sqlite3.SQLiteDriver{
				ConnectHook: func(conn *sqlite3.SQLiteConn) error {
					return conn.RegisterFunc("regexp", regex, true)
				},
			})
	})
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	// sqlite serializes writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	room_id       TEXT NOT NULL,
	connection_id TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	role          TEXT NOT NULL,
	action        TEXT NOT NULL,
	remote        TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_room_created ON audit_events (room_id, created_at);
`

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return xerrors.Errorf("failed to migrate: %w", err)
	}
	return nil
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) usecase.Repository {
	return &Repository{db: db, now: time.Now}
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	return xerrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func (r *Repository) CreateRoom(ctx context.Context, roomID string) error {
	query := "INSERT INTO rooms (id, created_at) VALUES (?, ?)"
	if _, err := r.db.ExecContext(ctx, query, roomID, r.now().UTC()); err != nil {
		if isConstraint(err) {
			return xerrors.Errorf("room %q: %w", roomID, domain.ErrRoomExists)
		}
		return xerrors.Errorf("failed to insert room '%s': %w", roomID, err)
	}
	return nil
}

func (r *Repository) DeleteRoom(ctx context.Context, roomID string) error {
	query := "DELETE FROM rooms WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, roomID)
	if err != nil {
		return xerrors.Errorf("failed to delete room %s: %w", roomID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return xerrors.Errorf("failed to delete room %s: %w", roomID, err)
	}
	if n == 0 {
		return xerrors.Errorf("room %q: %w", roomID, domain.ErrRoomNotFound)
	}
	return nil
}

func (r *Repository) RoomExists(ctx context.Context, roomID string) (bool, error) {
	query := "SELECT 1 FROM rooms WHERE id = ?"
	var one int
	if err := r.db.QueryRowContext(ctx, query, roomID).Scan(&one); err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, xerrors.Errorf("error querying room: %w", err)
	}
	return true, nil
}

func (r *Repository) ListRooms(ctx context.Context) ([]domain.RegisteredRoom, error) {
	query := "SELECT id, created_at FROM rooms ORDER BY id"
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, xerrors.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	rooms := []domain.RegisteredRoom{}
	for rows.Next() {
		var room domain.RegisteredRoom
		if err := rows.Scan(&room.ID, &room.CreatedAt); err != nil {
			return nil, xerrors.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("error iterating over rooms: %w", err)
	}
	return rooms, nil
}

func (r *Repository) CreateAuditEvent(ctx context.Context, event domain.AuditEvent) error {
	query := `INSERT INTO audit_events
		(id, room_id, connection_id, user_id, display_name, role, action, remote, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		event.ID, event.RoomID, event.ConnectionID, event.UserID, event.DisplayName,
		string(event.Role), string(event.Action), event.Remote, event.Time.UTC(),
	); err != nil {
		return xerrors.Errorf("failed to insert audit event for room %s: %w", event.RoomID, err)
	}
	return nil
}

// SearchAuditEvents returns the room's events whose user id, display name or
// action matches pattern, oldest first.
func (r *Repository) SearchAuditEvents(ctx context.Context, roomID, pattern string, limit int) ([]domain.AuditEvent, error) {
	query := `SELECT id, connection_id, user_id, display_name, role, action, remote, created_at
		FROM audit_events
		WHERE room_id = ? AND (user_id REGEXP ? OR display_name REGEXP ? OR action REGEXP ?)
		ORDER BY created_at, id
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, roomID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, xerrors.Errorf("failed to execute search in room %s for query '%s': %w", roomID, pattern, err)
	}
	defer rows.Close()

	events := []domain.AuditEvent{}
	for rows.Next() {
		var (
			e            = domain.AuditEvent{RoomID: roomID}
			role, action string
		)
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.UserID, &e.DisplayName, &role, &action, &e.Remote, &e.Time); err != nil {
			return nil, xerrors.Errorf("failed to scan audit event: %w", err)
		}
		e.Role = domain.Role(role)
		e.Action = domain.AuditAction(action)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("error iterating over search results for room %s: %w", roomID, err)
	}
	return events, nil
}
