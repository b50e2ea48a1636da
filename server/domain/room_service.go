package domain

import "time"

// RoomService is the room registry: who is connected to which diagram.
type RoomService interface {
	// Join adds the session to the room, or refreshes its record when the
	// session already joined it. The joiner is queued a room_snapshot.
	Join(session StreamSession, request StreamRequest) (JoinResult, error)
	// Leave removes the session immediately.
	Leave(sessionID string) error
	// Disconnect starts the grace period after which the session is removed.
	Disconnect(sessionID string)

	Participants(roomID string) []Participant
	RoomOf(sessionID string) (string, bool)
	Rooms() []RoomSummary
}

// ActivityService handles everything a joined session emits after joining.
type ActivityService interface {
	Heartbeat(sessionID string, clientMillis int64) (HeartbeatResult, error)
	MoveCursor(sessionID string, x, y float64) error
	PublishUpdate(roomID, sessionID string, payload []byte) error
	ElementEdit(sessionID string, elementID *string) error
	Typing(sessionID string, isTyping bool) error

	// SweepIdle moves idle participants to away and returns how many moved.
	SweepIdle() int
}

type MessageBroadcaster interface {
	RegisterSession(sessionID string, responses chan<- StreamResponse) error
	UnregisterSession(sessionID string)
	SendToSession(sessionID string, event StreamEvent) error
}

type StreamManager interface {
	RoomService
	ActivityService
	MessageBroadcaster

	Stats() StreamStats
	Close() error
}

type JoinResult struct {
	Color        string
	Self         Participant
	Participants []Participant
	// Reconnected is true when a record of the same user waiting out its
	// disconnect grace period was replaced.
	Reconnected bool
}

type RoomSummary struct {
	RoomID       string    `json:"room_id"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisteredRoom is a diagram id known to the room directory.
type RegisteredRoom struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type StreamStats struct {
	ActiveRooms    int    `json:"active_rooms"`
	ActiveSessions int    `json:"active_sessions"`
	TotalEvents    int64  `json:"total_events"`
	Uptime         string `json:"uptime"`
}
