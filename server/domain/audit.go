package domain

import "time"

type AuditAction string

const (
	AuditJoin  AuditAction = "join"
	AuditLeave AuditAction = "leave"
	// AuditExpire is a removal after the disconnect grace period ran out.
	AuditExpire AuditAction = "expire"
)

type AuditEvent struct {
	ID           string      `json:"id"`
	RoomID       string      `json:"room_id"`
	ConnectionID string      `json:"connection_id"`
	UserID       string      `json:"user_id"`
	DisplayName  string      `json:"display_name"`
	Role         Role        `json:"role"`
	Action       AuditAction `json:"action"`
	Remote       string      `json:"remote"`
	Time         time.Time   `json:"time"`
}

func NewAuditEvent(p Participant, action AuditAction, remote string, at time.Time) AuditEvent {
	return AuditEvent{
		ID:           NewSessionID(),
		RoomID:       p.RoomID,
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Role:         p.Role,
		Action:       action,
		Remote:       remote,
		Time:         at,
	}
}

// Auditor receives join/leave records. Audit must not block the caller.
type Auditor interface {
	Audit(event AuditEvent)
}

type nopAuditor struct{}

func (nopAuditor) Audit(AuditEvent) {}
