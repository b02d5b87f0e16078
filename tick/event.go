package tick

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event is one state change to forward. It marshals to the JSON payload
// the tickerplant-side update function expects.
type Event struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	TimeFired  time.Time              `json:"time_fired"`
}

// Payload renders the event as the char-vector argument for the update
// function.
func (e Event) Payload() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "marshal event")
	}
	return string(b), nil
}

// ParseEvent decodes one JSON-encoded event line.
func ParseEvent(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, errors.Wrap(err, "parse event")
	}
	if e.EntityID == "" {
		return Event{}, errors.New("event missing entity_id")
	}
	return e, nil
}
