package roles

import "time"

// AckResult reports the outcome of an acknowledgment request.
type AckResult struct {
	Type         string    `json:"type,omitempty"`
	Acknowledged int       `json:"acknowledged"`
	Forwarded    bool      `json:"forwarded"`
	At           time.Time `json:"at"`
}
