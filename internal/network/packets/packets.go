// Package packets defines the asset event protocol spoken over websocket.
//
// Every frame is a JSON text message of the form
//
//	{"event": "asset_fetch", "data": {"assetName": "cube"}}
package packets

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> Server events
const (
	EventFetch       = "asset_fetch"         // One-shot fetch
	EventFetchAndSub = "asset_fetch_and_sub" // Fetch, then push every change
	EventUnsub       = "asset_unsub"         // Stop pushing changes
)

// Server -> Client events
const (
	EventData   = "asset_data"   // Answer to a fetch
	EventUpdate = "asset_update" // Re-parsed asset after a change
	EventError  = "asset_error"  // Fetch or refresh failure
)

// Protocol errors.
var (
	ErrMissingEvent = errors.New("message has no event")
	ErrMissingData  = errors.New("message has no data")
)

// Message is one protocol frame. Data stays raw until the handler for the
// event decodes it.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AssetRequest is the payload of every client -> server event.
type AssetRequest struct {
	AssetName string `json:"assetName"`
}

// AssetError (asset_error)
type AssetError struct {
	AssetName string `json:"assetName"`
	Message   string `json:"message"`
}

// Encode builds a frame for event with data as its payload.
func Encode(event string, data any) ([]byte, error) {
	if event == "" {
		return nil, ErrMissingEvent
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: raw})
}

// Decode parses one frame.
func Decode(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	if msg.Event == "" {
		return nil, ErrMissingEvent
	}
	return &msg, nil
}

// Unmarshal decodes the payload into v.
func (m *Message) Unmarshal(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return fmt.Errorf("%s: %w", m.Event, ErrMissingData)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Event, err)
	}
	return nil
}

// Request decodes an AssetRequest payload and checks the asset name.
func (m *Message) Request() (AssetRequest, error) {
	var req AssetRequest
	if err := m.Unmarshal(&req); err != nil {
		return req, err
	}
	if req.AssetName == "" {
		return req, fmt.Errorf("%s: empty assetName: %w", m.Event, ErrMissingData)
	}
	return req, nil
}
