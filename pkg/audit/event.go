// Package audit provides an append-only trail of controller-initiated
// operations against edge agents and their devices.
package audit

import (
	"fmt"
	"time"
)

// Event records one controller→agent operation.
type Event struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	AgentID   string        `json:"agent_id"`
	Operation string        `json:"operation"` // ssh_command, update_config, ztp_start, ztp_stop
	TargetIP  string        `json:"target_ip,omitempty"`
	Command   string        `json:"command,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	AgentID     string
	Operation   string
	TargetIP    string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(agentID, operation string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		AgentID:   agentID,
		Operation: operation,
	}
}

// WithTarget sets the device the operation ran against
func (e *Event) WithTarget(ip string) *Event {
	e.TargetIP = ip
	return e
}

// WithCommand sets the CLI command text
func (e *Event) WithCommand(command string) *Event {
	e.Command = command
	return e
}

// WithRequestID sets the correlation id
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
