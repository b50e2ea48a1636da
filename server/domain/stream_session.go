package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// StreamSession is one live transport connection. It is the identity a
// Participant is keyed by, separate from the user behind it.
type StreamSession struct {
	ID          string
	Remote      string
	Transport   string
	ConnectedAt time.Time
	// UserID and DisplayName are set when a trusted upstream already
	// authenticated the connection. They override the join_room fields.
	UserID      string
	DisplayName string
}

func NewStreamSession(id, remote, transport string, connectedAt time.Time) StreamSession {
	return StreamSession{
		ID:          id,
		Remote:      remote,
		Transport:   transport,
		ConnectedAt: connectedAt,
	}
}

// NewSessionID returns a sortable unique connection id.
func NewSessionID() string {
	return ulid.Make().String()
}

// WithIdentity returns a copy of the session bound to a verified user.
func (s StreamSession) WithIdentity(userID, displayName string) StreamSession {
	s.UserID = userID
	s.DisplayName = displayName
	return s
}

// Authenticate applies the session's verified identity to a join request.
func (s StreamSession) Authenticate(request StreamRequest) StreamRequest {
	if s.UserID == "" {
		return request
	}
	request.UserID = s.UserID
	request.DisplayName = s.DisplayName
	if request.DisplayName == "" {
		request.DisplayName = s.UserID
	}
	return request
}

func (s StreamSession) IsValid() bool {
	return s.ID != ""
}

func (s StreamSession) String() string {
	return s.ID + "(" + s.Transport + " " + s.Remote + ")"
}
