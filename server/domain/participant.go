package domain

import (
	"time"

	"golang.org/x/xerrors"
)

type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// ParseRole maps the wire value to a Role. An empty value means editor.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", xerrors.Errorf("unknown role %q: %w", s, ErrMalformedRequest)
	}
}

// CanEdit reports whether the role may publish content deltas and claim elements.
func (r Role) CanEdit() bool {
	return r == RoleEditor
}

type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is the presence record of one live connection in a room.
type Participant struct {
	ConnectionID  string         `json:"connection_id"`
	RoomID        string         `json:"room_id"`
	UserID        string         `json:"user_id"`
	DisplayName   string         `json:"display_name"`
	Color         string         `json:"color"`
	Role          Role           `json:"role"`
	Status        PresenceStatus `json:"status"`
	LastActivity  time.Time      `json:"last_activity"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	LatencyMS     int64          `json:"latency_ms"`
	Quality       QualityTier    `json:"quality"`
	ActiveElement *string        `json:"active_element"`
	Typing        bool           `json:"is_typing"`
	Cursor        *Cursor        `json:"cursor"`
	JoinedAt      time.Time      `json:"joined_at"`
}

func NewParticipant(connectionID, roomID, userID, displayName string, role Role, now time.Time) Participant {
	return Participant{
		ConnectionID: connectionID,
		RoomID:       roomID,
		UserID:       userID,
		DisplayName:  displayName,
		Color:        ColorFor(roomID, userID),
		Role:         role,
		Status:       StatusOnline,
		LastActivity: now,
		Quality:      QualityExcellent,
		JoinedAt:     now,
	}
}

// Clone returns a copy that shares no pointers with p.
func (p Participant) Clone() Participant {
	c := p
	if p.ActiveElement != nil {
		e := *p.ActiveElement
		c.ActiveElement = &e
	}
	if p.Cursor != nil {
		cur := *p.Cursor
		c.Cursor = &cur
	}
	return c
}

func (p Participant) String() string {
	return p.DisplayName + "(" + p.UserID + ")@" + p.RoomID + "[" + string(p.Status) + "]"
}
