package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	errNoFieldValue = errors.New("line has no field value")

	// ErrMissingType is returned when a WebSocket text frame has no "type"
	// discriminator.
	ErrMissingType = errors.New("websocket frame missing type field")
)

// DecodeWSFrame converts one WebSocket text frame into a Frame. Each text
// frame is a complete JSON document tagged with a "type" field; the payload
// is the document itself so the decoder can pull event-specific fields out
// of it.
func DecodeWSFrame(data []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Frame{}, fmt.Errorf("parse websocket frame: %w", err)
	}
	if envelope.Type == "" {
		return Frame{}, ErrMissingType
	}
	return Frame{EventType: envelope.Type, Payload: string(data)}, nil
}
