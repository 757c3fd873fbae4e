// Package protocol defines the named events exchanged over a collaboration
// connection and their JSON payloads.
//
// Every frame, in either direction, is an envelope of the form
//
//	{"event": "<name>", "data": <payload>}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Events consumed from clients.
const (
	EventJoinRoom        = "join_room"
	EventCodeDelta       = "code_delta"
	EventCursorMove      = "cursor_move"
	EventSelectionChange = "selection_change"
	EventRequestFullSync = "request_full_sync"
)

// Events produced for clients.
const (
	EventInitCode         = "init_code"
	EventCurrentUserList  = "current_user_list"
	EventNewUserJoined    = "new_user_joined"
	EventReceiveDelta     = "receive_delta"
	EventReceiveCursor    = "receive_cursor"
	EventReceiveSelection = "receive_selection"
	EventUserLeft         = "user_left"
)

var (
	// ErrMalformedFrame indicates a frame that is not a valid envelope.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrMalformedPayload indicates an envelope whose data does not match its event.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
)

// Envelope wraps every frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame into an Envelope.
func Decode(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	envelope.Event = strings.TrimSpace(envelope.Event)
	if envelope.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return envelope, nil
}

// Encode marshals payload into a frame for event.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodePayload unmarshals the envelope data into target.
func (envelope Envelope) DecodePayload(target any) error {
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: %s: missing data", ErrMalformedPayload, envelope.Event)
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, envelope.Event, err)
	}
	return nil
}
