package vitals

import "github.com/HerbHall/bananapuck/internal/telemetry"

// Event topics published by the Vitals module.
const (
	TopicSample            = "vitals.sample"
	TopicAlertTriggered    = "vitals.alert.triggered"
	TopicAlertAcknowledged = "vitals.alert.acknowledged"
)

// SampleEvent is the payload for TopicSample.
type SampleEvent struct {
	Sample telemetry.Sample `json:"sample"`
	Levels map[string]Level `json:"levels"`
}

// AlertEvent is the payload for TopicAlertTriggered.
type AlertEvent struct {
	Alert Alert `json:"alert"`
}

// AcknowledgedEvent is the payload for TopicAlertAcknowledged. An empty
// Type means every group was acknowledged.
type AcknowledgedEvent struct {
	Type  string `json:"type,omitempty"`
	Count int    `json:"count"`
}
