package ws

import (
	"time"

	"github.com/HerbHall/bananapuck/internal/vitals"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageSnapshot          MessageType = "vitals.snapshot"
	MessageUpdate            MessageType = "vitals.update"
	MessageAlertTriggered    MessageType = "vitals.alert.triggered"
	MessageAlertAcknowledged MessageType = "vitals.alert.acknowledged"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// UpdateData is the payload for vitals.snapshot and vitals.update messages.
type UpdateData struct {
	View   vitals.View             `json:"view"`
	Levels map[string]vitals.Level `json:"levels"`
	Active []vitals.AlertGroup     `json:"active_alerts"`
}

// AlertTriggeredData is the payload for vitals.alert.triggered messages.
type AlertTriggeredData struct {
	Alert vitals.Alert `json:"alert"`
}

// AlertAcknowledgedData is the payload for vitals.alert.acknowledged
// messages. An empty Type means every group was acknowledged.
type AlertAcknowledgedData struct {
	Type  string `json:"type,omitempty"`
	Count int    `json:"count"`
}

func updateData(snap vitals.Snapshot) UpdateData {
	return UpdateData{
		View:   vitals.Render(snap),
		Levels: snap.Levels,
		Active: snap.Active,
	}
}
