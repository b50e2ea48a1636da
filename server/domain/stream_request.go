package domain

import (
	"regexp"

	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"
)

type StreamRequestType int

const (
	RequestJoin StreamRequestType = iota
	RequestLeave
	RequestHeartbeat
	RequestCursor
	RequestUpdate
	RequestElementEdit
	RequestTyping
)

var requestNames = map[StreamRequestType]string{
	RequestJoin:        "join_room",
	RequestLeave:       "leave_room",
	RequestHeartbeat:   "heartbeat",
	RequestCursor:      "cursor_move",
	RequestUpdate:      "diagram_update",
	RequestElementEdit: "element_edit",
	RequestTyping:      "typing_status",
}

func (t StreamRequestType) String() string {
	if name, ok := requestNames[t]; ok {
		return name
	}
	return "unknown"
}

func ParseRequestType(name string) (StreamRequestType, bool) {
	for t, n := range requestNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9:_\-.]{0,127}$`)

// ValidRoomID reports whether id is an acceptable opaque diagram identifier.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// StreamRequest is one inbound event from a connection.
type StreamRequest struct {
	Type        StreamRequestType
	RoomID      string
	UserID      string
	DisplayName string
	Role        Role
	// Timestamp is the client clock in unix milliseconds (heartbeat).
	Timestamp int64
	X, Y      float64
	Payload   []byte
	ElementID *string
	IsTyping  bool
}

func NewJoinRequest(roomID, userID, displayName string, role Role) StreamRequest {
	return StreamRequest{
		Type:        RequestJoin,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
	}
}

func NewLeaveRequest(roomID string) StreamRequest {
	return StreamRequest{Type: RequestLeave, RoomID: roomID}
}

func NewHeartbeatRequest(timestamp int64) StreamRequest {
	return StreamRequest{Type: RequestHeartbeat, Timestamp: timestamp}
}

func NewCursorRequest(x, y float64) StreamRequest {
	return StreamRequest{Type: RequestCursor, X: x, Y: y}
}

func NewUpdateRequest(payload []byte) StreamRequest {
	return StreamRequest{Type: RequestUpdate, Payload: payload}
}

func NewElementEditRequest(elementID *string) StreamRequest {
	return StreamRequest{Type: RequestElementEdit, ElementID: elementID}
}

func NewTypingRequest(isTyping bool) StreamRequest {
	return StreamRequest{Type: RequestTyping, IsTyping: isTyping}
}

func (r StreamRequest) IsValid() bool {
	return r.Validate() == nil
}

func (r StreamRequest) Validate() error {
	switch r.Type {
	case RequestJoin:
		if !ValidRoomID(r.RoomID) {
			return xerrors.Errorf("invalid room id %q: %w", r.RoomID, ErrMalformedRequest)
		}
		if r.UserID == "" {
			return xerrors.Errorf("join_room needs user_id: %w", ErrMalformedRequest)
		}
		if r.Role != RoleEditor && r.Role != RoleViewer {
			return xerrors.Errorf("invalid role %q: %w", r.Role, ErrMalformedRequest)
		}
	case RequestUpdate:
		if len(r.Payload) == 0 {
			return xerrors.Errorf("diagram_update needs payload: %w", ErrMalformedRequest)
		}
	case RequestElementEdit:
		if r.ElementID != nil && *r.ElementID == "" {
			return xerrors.Errorf("element_id must be null or non-empty: %w", ErrMalformedRequest)
		}
	case RequestLeave, RequestHeartbeat, RequestCursor, RequestTyping:
	default:
		return xerrors.Errorf("unknown request type %d: %w", r.Type, ErrMalformedRequest)
	}
	return nil
}

func (r StreamRequest) String() string {
	switch r.Type {
	case RequestJoin:
		return r.Type.String() + ": " + r.UserID + " -> " + r.RoomID
	case RequestUpdate:
		return r.Type.String() + ": " + string(r.Payload)
	default:
		return r.Type.String()
	}
}

// DecodeRequest parses a {"event": ..., "data": {...}} envelope.
func DecodeRequest(data []byte) (StreamRequest, error) {
	if !gjson.ValidBytes(data) {
		return StreamRequest{}, xerrors.Errorf("request is not valid json: %w", ErrMalformedRequest)
	}
	env := gjson.ParseBytes(data)
	name := env.Get("event")
	if name.Type != gjson.String {
		return StreamRequest{}, xerrors.Errorf("request has no event name: %w", ErrMalformedRequest)
	}
	typ, ok := ParseRequestType(name.Str)
	if !ok {
		return StreamRequest{}, xerrors.Errorf("unknown event %q: %w", name.Str, ErrMalformedRequest)
	}
	body := env.Get("data")
	if body.Exists() && !body.IsObject() {
		return StreamRequest{}, xerrors.Errorf("%s data must be an object: %w", name.Str, ErrMalformedRequest)
	}

	var (
		req = StreamRequest{Type: typ}
		err error
	)
	switch typ {
	case RequestJoin:
		if req.RoomID, err = stringField(body, "room_id", true); err != nil {
			return StreamRequest{}, err
		}
		if req.UserID, err = stringField(body, "user_id", true); err != nil {
			return StreamRequest{}, err
		}
		if req.DisplayName, err = stringField(body, "display_name", false); err != nil {
			return StreamRequest{}, err
		}
		role, err := stringField(body, "role", false)
		if err != nil {
			return StreamRequest{}, err
		}
		if req.Role, err = ParseRole(role); err != nil {
			return StreamRequest{}, err
		}
		if req.DisplayName == "" {
			req.DisplayName = req.UserID
		}
	case RequestLeave:
		if req.RoomID, err = stringField(body, "room_id", false); err != nil {
			return StreamRequest{}, err
		}
	case RequestHeartbeat:
		ts, err := numberField(body, "timestamp")
		if err != nil {
			return StreamRequest{}, err
		}
		if ts < -(1<<63) || ts >= 1<<63 {
			return StreamRequest{}, xerrors.Errorf("timestamp %g out of range: %w", ts, ErrMalformedRequest)
		}
		req.Timestamp = int64(ts)
	case RequestCursor:
		if req.X, err = numberField(body, "x"); err != nil {
			return StreamRequest{}, err
		}
		if req.Y, err = numberField(body, "y"); err != nil {
			return StreamRequest{}, err
		}
	case RequestUpdate:
		p := body.Get("payload")
		if !p.IsObject() {
			return StreamRequest{}, xerrors.Errorf("diagram_update payload must be an object: %w", ErrMalformedRequest)
		}
		req.Payload = []byte(p.Raw)
	case RequestElementEdit:
		e := body.Get("element_id")
		switch {
		case !e.Exists():
			return StreamRequest{}, xerrors.Errorf("element_edit needs element_id: %w", ErrMalformedRequest)
		case e.Type == gjson.Null:
		case e.Type == gjson.String:
			id := e.Str
			req.ElementID = &id
		default:
			return StreamRequest{}, xerrors.Errorf("element_id must be a string or null: %w", ErrMalformedRequest)
		}
	case RequestTyping:
		v := body.Get("is_typing")
		if !v.IsBool() {
			return StreamRequest{}, xerrors.Errorf("is_typing must be a boolean: %w", ErrMalformedRequest)
		}
		req.IsTyping = v.Bool()
	}
	if err := req.Validate(); err != nil {
		return StreamRequest{}, err
	}
	return req, nil
}

func stringField(body gjson.Result, name string, required bool) (string, error) {
	v := body.Get(name)
	if !v.Exists() || v.Type == gjson.Null {
		if required {
			return "", xerrors.Errorf("missing field %q: %w", name, ErrMalformedRequest)
		}
		return "", nil
	}
	if v.Type != gjson.String {
		return "", xerrors.Errorf("field %q must be a string: %w", name, ErrMalformedRequest)
	}
	return v.Str, nil
}

func numberField(body gjson.Result, name string) (float64, error) {
	v := body.Get(name)
	if v.Type != gjson.Number {
		return 0, xerrors.Errorf("field %q must be a number: %w", name, ErrMalformedRequest)
	}
	return v.Num, nil
}
