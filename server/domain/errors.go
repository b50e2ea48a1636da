package domain

import "golang.org/x/xerrors"

var (
	ErrMalformedRequest = xerrors.New("malformed request")
	ErrMalformedPayload = xerrors.New("malformed payload")
	ErrUnknownRoom      = xerrors.New("unknown room")
	ErrNotJoined        = xerrors.New("connection has not joined a room")
	ErrForbidden        = xerrors.New("forbidden")
	ErrSessionNotFound  = xerrors.New("session not found")
	ErrClosed           = xerrors.New("stream manager closed")

	// Room directory
	ErrRoomNotFound = xerrors.New("room not registered")
	ErrRoomExists   = xerrors.New("room already registered")
)

const (
	CodeMalformedPayload = "malformed_payload"
	CodeUnknownRoom      = "unknown_room"
	CodeNotJoined        = "not_joined"
	CodeForbidden        = "forbidden"
	CodeInternal         = "internal"
)

// ErrorCode maps an error returned by the engine to its wire code.
func ErrorCode(err error) string {
	switch {
	case xerrors.Is(err, ErrMalformedRequest), xerrors.Is(err, ErrMalformedPayload):
		return CodeMalformedPayload
	case xerrors.Is(err, ErrUnknownRoom), xerrors.Is(err, ErrRoomNotFound):
		return CodeUnknownRoom
	case xerrors.Is(err, ErrNotJoined), xerrors.Is(err, ErrSessionNotFound):
		return CodeNotJoined
	case xerrors.Is(err, ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
