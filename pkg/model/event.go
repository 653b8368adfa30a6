package model

import "time"

// EventKind enumerates the observable ZTP occurrences.
type EventKind string

const (
	EventDeviceDiscovered EventKind = "device_discovered"
	EventDeviceConfigured EventKind = "device_configured"
	EventInventoryUpdate  EventKind = "inventory_update"
	EventZTPStarted       EventKind = "ztp_started"
	EventZTPStopped       EventKind = "ztp_stopped"
	EventError            EventKind = "error"
)

// Event is a timestamped ZTP occurrence. AgentID is attached by the layer
// that knows it (the agent when forwarding, the controller when storing).
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Kind      EventKind              `json:"event_type"`
	Payload   map[string]interface{} `json:"data,omitempty"`
}
