// Package audit ships join/leave records to their backends off the broadcast
// path.
package audit

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"cdr.dev/slog/v3"

	"github.com/ponyo877/collab/server/domain"
)

const defaultBuffer = 1024

// Backend persists or forwards audit events.
type Backend interface {
	Export(ctx context.Context, event domain.AuditEvent) error
}

// Auditor queues events and exports them from a single worker goroutine.
// When the queue is full the event is dropped with a warning.
type Auditor struct {
	logger   slog.Logger
	backends []Backend
	events   chan domain.AuditEvent
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ domain.Auditor = (*Auditor)(nil)

func New(logger slog.Logger, buffer int, backends ...Backend) *Auditor {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	a := &Auditor{
		logger:   logger,
		backends: backends,
		events:   make(chan domain.AuditEvent, buffer),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Auditor) Audit(event domain.AuditEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- event:
	default:
		a.logger.Warn(context.Background(), "audit queue full, dropping event",
			slog.F("room_id", event.RoomID),
			slog.F("action", event.Action),
		)
	}
}

// Close flushes queued events and stops the worker.
func (a *Auditor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *Auditor) run() {
	defer close(a.done)
	ctx := context.Background()
	for event := range a.events {
		for _, b := range a.backends {
			if err := b.Export(ctx, event); err != nil {
				a.logger.Error(ctx, "export audit event",
					slog.F("room_id", event.RoomID),
					slog.F("action", event.Action),
					slog.Error(err),
				)
			}
		}
	}
}

type slogBackend struct {
	log slog.Logger
}

// NewSlog logs every audit event at info level.
func NewSlog(logger slog.Logger) Backend {
	return &slogBackend{log: logger}
}

func (b *slogBackend) Export(ctx context.Context, event domain.AuditEvent) error {
	b.log.Info(ctx, "participant "+string(event.Action),
		slog.F("id", event.ID),
		slog.F("room_id", event.RoomID),
		slog.F("connection_id", event.ConnectionID),
		slog.F("user_id", event.UserID),
		slog.F("display_name", event.DisplayName),
		slog.F("role", event.Role),
		slog.F("remote", event.Remote),
	)
	return nil
}

// Store is the persistence a store backend writes to.
type Store interface {
	CreateAuditEvent(ctx context.Context, event domain.AuditEvent) error
}

type storeBackend struct {
	store Store
}

func NewStore(store Store) Backend {
	return &storeBackend{store: store}
}

func (b *storeBackend) Export(ctx context.Context, event domain.AuditEvent) error {
	if err := b.store.CreateAuditEvent(ctx, event); err != nil {
		return xerrors.Errorf("store audit event: %w", err)
	}
	return nil
}
