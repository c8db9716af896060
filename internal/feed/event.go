package feed

import (
	"encoding/json"
	"time"
)

// PongType is the reserved liveness-acknowledgment type. Frames carrying it
// are consumed by the connection layer and never surfaced to consumers.
const PongType = "pong"

// Event is one accepted inbound frame from the live feed.
type Event struct {
	Type       string          // Discriminator from the frame's "type" field
	Raw        json.RawMessage // Full frame bytes as received
	ReceivedAt time.Time       // Local timestamp when the frame arrived
}

// frameHead is the minimal envelope every frame must carry.
type frameHead struct {
	Type string `json:"type"`
}

// Decode parses a raw frame into an Event. Returns false when the frame is
// not a JSON object or lacks the mandatory type field; callers discard such
// frames without surfacing an error.
func Decode(data []byte, receivedAt time.Time) (Event, bool) {
	var head frameHead
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, false
	}
	if head.Type == "" {
		return Event{}, false
	}

	// Copy the payload: the transport may reuse its read buffer.
	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	return Event{
		Type:       head.Type,
		Raw:        raw,
		ReceivedAt: receivedAt,
	}, true
}
