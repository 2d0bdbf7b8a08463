package notify

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStart    EventType = "start"
	EventInfo     EventType = "info"
	EventLog      EventType = "log"
	EventSuccess  EventType = "success"
	EventError    EventType = "error"
	EventComplete EventType = "complete" // final result of a streamed operation
)

// Event is one progress line. Topic is the job id, or a per-request id for
// credential validation streams.
type Event struct {
	Topic     string    `json:"jobId"`
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
