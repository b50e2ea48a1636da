package domain

import (
	"encoding/json"
	"time"

	"golang.org/x/xerrors"
)

type StreamEventType int

const (
	EventParticipantJoined StreamEventType = iota
	EventRoomSnapshot
	EventParticipantLeft
	EventPresenceChanged
	EventQualityChanged
	EventUpdate
	EventTypingUpdate
	EventElementActive
	EventHeartbeatAck
	EventError
)

var eventNames = map[StreamEventType]string{
	EventParticipantJoined: "participant_joined",
	EventRoomSnapshot:      "room_snapshot",
	EventParticipantLeft:   "participant_left",
	EventPresenceChanged:   "presence_changed",
	EventQualityChanged:    "connection_quality_changed",
	EventUpdate:            "update",
	EventTypingUpdate:      "typing_update",
	EventElementActive:     "element_active",
	EventHeartbeatAck:      "heartbeat_ack",
	EventError:             "error",
}

func (t StreamEventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "unknown"
}

func ParseEventType(name string) (StreamEventType, bool) {
	for t, n := range eventNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

type ParticipantJoinedData struct {
	Participant Participant `json:"participant"`
}

type RoomSnapshotData struct {
	Color        string        `json:"color"`
	Self         Participant   `json:"self"`
	Participants []Participant `json:"participants"`
}

type ParticipantLeftData struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type PresenceChangedData struct {
	UserID string         `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type QualityChangedData struct {
	UserID    string      `json:"user_id"`
	Quality   QualityTier `json:"quality"`
	LatencyMS int64       `json:"latency_ms"`
}

type UpdateData struct {
	UserID  string `json:"user_id"`
	Payload Delta  `json:"payload"`
}

type TypingUpdateData struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type ElementActiveData struct {
	UserID    string  `json:"user_id"`
	ElementID *string `json:"element_id"`
	Color     string  `json:"color"`
}

type HeartbeatAckData struct {
	LatencyMS int64       `json:"latency_ms"`
	Quality   QualityTier `json:"quality"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// StreamEvent is one outbound event. SenderID is the connection that caused
// it; fan-out never delivers an event back to its sender.
type StreamEvent struct {
	Type      StreamEventType
	RoomID    string
	SenderID  string
	Data      any
	Timestamp time.Time
}

func NewParticipantJoinedEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventParticipantJoined,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      ParticipantJoinedData{Participant: p},
		Timestamp: now,
	}
}

func NewRoomSnapshotEvent(self Participant, others []Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventRoomSnapshot,
		RoomID:    self.RoomID,
		Data:      RoomSnapshotData{Color: self.Color, Self: self, Participants: others},
		Timestamp: now,
	}
}

func NewParticipantLeftEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventParticipantLeft,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      ParticipantLeftData{UserID: p.UserID, ConnectionID: p.ConnectionID},
		Timestamp: now,
	}
}

func NewPresenceChangedEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventPresenceChanged,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      PresenceChangedData{UserID: p.UserID, Status: p.Status},
		Timestamp: now,
	}
}

func NewQualityChangedEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventQualityChanged,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      QualityChangedData{UserID: p.UserID, Quality: p.Quality, LatencyMS: p.LatencyMS},
		Timestamp: now,
	}
}

func NewUpdateEvent(p Participant, delta Delta, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventUpdate,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      UpdateData{UserID: p.UserID, Payload: delta},
		Timestamp: now,
	}
}

func NewTypingUpdateEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventTypingUpdate,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      TypingUpdateData{UserID: p.UserID, IsTyping: p.Typing},
		Timestamp: now,
	}
}

func NewElementActiveEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventElementActive,
		RoomID:    p.RoomID,
		SenderID:  p.ConnectionID,
		Data:      ElementActiveData{UserID: p.UserID, ElementID: p.ActiveElement, Color: p.Color},
		Timestamp: now,
	}
}

func NewHeartbeatAckEvent(p Participant, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventHeartbeatAck,
		RoomID:    p.RoomID,
		Data:      HeartbeatAckData{LatencyMS: p.LatencyMS, Quality: p.Quality},
		Timestamp: now,
	}
}

func NewErrorEvent(err error, request string, now time.Time) StreamEvent {
	return StreamEvent{
		Type:      EventError,
		Data:      ErrorData{Code: ErrorCode(err), Message: err.Error(), Request: request},
		Timestamp: now,
	}
}

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode serializes the event into its wire envelope.
func (e StreamEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(envelope{Event: e.Type.String(), Data: e.Data})
	if err != nil {
		return nil, xerrors.Errorf("encode %s event: %w", e.Type, err)
	}
	return data, nil
}

func (e StreamEvent) String() string {
	return e.Type.String() + "@" + e.RoomID
}
