package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound event names.
const (
	EventUserData  = "user_data"
	EventAuthError = "auth_error"
	EventError     = "error"
)

var (
	errInvalidFrame = errors.New("frame must be a JSON object with an event name")
	errInvalidData  = errors.New("event data must be a JSON object")
)

// inbound is a frame received from a client.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound is a frame sent to a client.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// UserData reports a user's own counter.
type UserData struct {
	Name  string `json:"name"`
	Score int64  `json:"score"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return b, nil
}

// decodeFrame parses a client frame and its optional object payload.
// Numbers in the payload are kept as json.Number.
func decodeFrame(msg []byte) (string, map[string]any, error) {
	var f inbound
	if err := json.Unmarshal(msg, &f); err != nil {
		return "", nil, errInvalidFrame
	}
	if f.Event == "" {
		return "", nil, errInvalidFrame
	}

	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return f.Event, nil, nil
	}
	if data[0] != '{' {
		return f.Event, nil, errInvalidData
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return f.Event, nil, errInvalidData
	}
	return f.Event, payload, nil
}
