package ztp

import (
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// Emitter receives every engine event. The agent forwards these upstream as
// ztp_event frames; tests capture them directly. A nil emitter is a no-op.
type Emitter func(model.Event)

// Status is the engine snapshot carried in heartbeats and status responses.
type Status struct {
	Running            bool   `json:"running"`
	Switches           int    `json:"switches"`
	APs                int    `json:"aps"`
	ConfiguredSwitches int    `json:"configured_switches"`
	LastUpdate         string `json:"last_update"`
}

func (e *Engine) emitEvent(kind model.EventKind, payload map[string]interface{}) {
	emit := e.emit
	if emit == nil {
		return
	}
	emit(model.Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   payload,
	})
}
