package domain

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// StreamResponse is an encoded event on its way to one session. The same
// encoded bytes are shared by every recipient of a broadcast.
type StreamResponse struct {
	Event   StreamEventType
	Payload []byte
}

func NewStreamResponse(event StreamEvent) (StreamResponse, error) {
	payload, err := event.Encode()
	if err != nil {
		return StreamResponse{}, err
	}
	return StreamResponse{Event: event.Type, Payload: payload}, nil
}

func (r StreamResponse) IsError() bool {
	return r.Event == EventError
}

func (r StreamResponse) String() string {
	return string(r.Payload)
}

// DecodedResponse is a received envelope with its data left raw.
type DecodedResponse struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DecodeResponse splits an envelope into event name and raw data.
func DecodeResponse(payload []byte) (DecodedResponse, error) {
	var d DecodedResponse
	if err := json.Unmarshal(payload, &d); err != nil {
		return DecodedResponse{}, xerrors.Errorf("decode envelope: %w", err)
	}
	return d, nil
}
