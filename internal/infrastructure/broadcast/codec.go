package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/event"
)

// Envelope is the wire form of a session event
type Envelope struct {
	Type    string          `json:"type"`
	Origin  string          `json:"origin,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

var serializer = event.NewReceivingSerializer()

// Encode wraps evt in an envelope
func Encode(evt receiving.SessionEvent, origin string) ([]byte, error) {
	payload, err := serializer.Serialize(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: evt.EventType(), Origin: origin, Payload: payload})
}

// Decode parses an envelope back into its session event
func Decode(data []byte) (receiving.SessionEvent, string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	decoded, err := serializer.Deserialize(env.Type, env.Payload)
	if err != nil {
		return nil, env.Origin, err
	}
	evt, ok := decoded.(receiving.SessionEvent)
	if !ok {
		return nil, env.Origin, fmt.Errorf("%s is not a session event", env.Type)
	}
	if evt.SessionKey().IsZero() {
		return nil, env.Origin, fmt.Errorf("%s without session key", env.Type)
	}
	return evt, env.Origin, nil
}
