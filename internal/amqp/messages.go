package amqp

import (
	"encoding/json"
	"time"
)

// Change operations carried by ChangeEvent.Op.
const (
	OpAdd    = "add"
	OpDelete = "delete"
)

// ChangeEvent announces that a document in Collection was written. Receivers
// re-run their queries, so the event carries no document data.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         string    `json:"id"`
	Origin     string    `json:"origin"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewChangeEvent(collection, op, id, origin string) *ChangeEvent {
	return &ChangeEvent{
		Collection: collection,
		Op:         op,
		ID:         id,
		Origin:     origin,
		Timestamp:  time.Now(),
	}
}

func (e *ChangeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func ChangeEventFromJSON(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
