// Package protocol defines the JSON frames exchanged between the controller
// and edge agents over the WebSocket. Every frame carries a `type`
// discriminator; Decode returns the concrete frame for it.
package protocol

import (
	"encoding/json"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
	"github.com/neuralconfig/ruckus-ztp/pkg/ztp"
)

// Frame type discriminators.
const (
	TypeRegister             = "register"
	TypeStatus               = "status"
	TypeZTPEvent             = "ztp_event"
	TypeCommandResult        = "command_result"
	TypeInventoryResponse    = "inventory_response"
	TypeStatusResponse       = "status_response"
	TypeConfigUpdateResponse = "config_update_response"
	TypeZTPStartResponse     = "ztp_start_response"
	TypeSSHCommand           = "ssh_command"
	TypeUpdateConfig         = "update_config"
	// TypeZTPConfig is a legacy alias some controllers emit for update_config.
	TypeZTPConfig = "ztp_config"
	TypeZTPStart             = "ztp_start"
	TypeZTPStop              = "ztp_stop"
	TypeGetStatus            = "get_status"
	TypeGetInventory         = "get_inventory"
	TypePing                 = "ping"
	TypePong                 = "pong"
)

// Frame is any message that can cross the agent WebSocket.
type Frame interface {
	FrameType() string
}

// NetworkInfo describes the LAN an agent is attached to.
type NetworkInfo struct {
	Hostname string `json:"hostname"`
	Subnet   string `json:"subnet"`
}

// Register is the first frame an agent sends after the socket opens.
type Register struct {
	PiID          string      `json:"pi_id"`
	AgentPassword string      `json:"agent_password,omitempty"`
	Capabilities  []string    `json:"capabilities"`
	NetworkInfo   NetworkInfo `json:"network_info"`
	Version       string      `json:"version"`
}

func (Register) FrameType() string { return TypeRegister }

// Status is the agent's periodic heartbeat.
type Status struct {
	PiID      string      `json:"pi_id,omitempty"`
	Status    string      `json:"status"`
	Timestamp int64       `json:"timestamp"` // milliseconds since epoch
	ZTPStatus *ztp.Status `json:"ztp_status,omitempty"`
}

func (Status) FrameType() string { return TypeStatus }

// ZTPEvent forwards one engine event upstream.
type ZTPEvent struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"` // milliseconds since epoch
}

func (ZTPEvent) FrameType() string { return TypeZTPEvent }

// CommandResult answers an ssh_command RPC.
type CommandResult struct {
	RequestID       string `json:"request_id"`
	Success         bool   `json:"success"`
	Output          string `json:"output,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

func (CommandResult) FrameType() string { return TypeCommandResult }

// InventoryResponse answers get_inventory.
type InventoryResponse struct {
	RequestID string           `json:"request_id"`
	Inventory *model.Inventory `json:"inventory"`
}

func (InventoryResponse) FrameType() string { return TypeInventoryResponse }

// StatusResponse answers get_status.
type StatusResponse struct {
	RequestID string     `json:"request_id"`
	Status    ztp.Status `json:"status"`
}

func (StatusResponse) FrameType() string { return TypeStatusResponse }

// ConfigUpdateResponse acknowledges update_config.
type ConfigUpdateResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

func (ConfigUpdateResponse) FrameType() string { return TypeConfigUpdateResponse }

// ZTPStartResponse acknowledges ztp_start.
type ZTPStartResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

func (ZTPStartResponse) FrameType() string { return TypeZTPStartResponse }

// SSHCommand is an ad-hoc controller→agent command against one device.
type SSHCommand struct {
	RequestID string `json:"request_id"`
	TargetIP  string `json:"target_ip"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Command   string `json:"command"`
	Timeout   int    `json:"timeout,omitempty"` // seconds
}

func (SSHCommand) FrameType() string { return TypeSSHCommand }

// UpdateConfig replaces the agent's ZTP configuration.
type UpdateConfig struct {
	RequestID string     `json:"request_id,omitempty"`
	Config    ztp.Config `json:"config"`
}

func (UpdateConfig) FrameType() string { return TypeUpdateConfig }

// ZTPStart pushes configuration (optionally) and starts the engine.
type ZTPStart struct {
	RequestID string      `json:"request_id,omitempty"`
	Config    *ztp.Config `json:"config,omitempty"`
}

func (ZTPStart) FrameType() string { return TypeZTPStart }

// ZTPStop stops the engine at the next iteration boundary.
type ZTPStop struct {
	RequestID string `json:"request_id,omitempty"`
}

func (ZTPStop) FrameType() string { return TypeZTPStop }

// GetStatus requests a StatusResponse.
type GetStatus struct {
	RequestID string `json:"request_id"`
}

func (GetStatus) FrameType() string { return TypeGetStatus }

// GetInventory requests an InventoryResponse.
type GetInventory struct {
	RequestID string `json:"request_id"`
}

func (GetInventory) FrameType() string { return TypeGetInventory }

// Ping is a controller-initiated liveness probe.
type Ping struct {
	Timestamp int64 `json:"timestamp"` // milliseconds since epoch
}

func (Ping) FrameType() string { return TypePing }

// Pong echoes a Ping.
type Pong struct {
	Timestamp int64  `json:"timestamp"`
	PiID      string `json:"pi_id,omitempty"`
}

func (Pong) FrameType() string { return TypePong }

// Marshal serialises a frame with its type discriminator injected.
func Marshal(f Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	t, err := json.Marshal(f.FrameType())
	if err != nil {
		return nil, err
	}
	m["type"] = t
	return json.Marshal(m)
}

// Decode parses a frame by its type discriminator. Unknown or missing types
// are protocol errors carrying the offending type string.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, util.NewProtocolError("decode", err.Error())
	}

	var (
		frame Frame
		err   error
	)
	switch head.Type {
	case TypeRegister:
		frame, err = decodeAs[Register](data)
	case TypeStatus:
		frame, err = decodeAs[Status](data)
	case TypeZTPEvent:
		frame, err = decodeAs[ZTPEvent](data)
	case TypeCommandResult:
		frame, err = decodeAs[CommandResult](data)
	case TypeInventoryResponse:
		frame, err = decodeAs[InventoryResponse](data)
	case TypeStatusResponse:
		frame, err = decodeAs[StatusResponse](data)
	case TypeConfigUpdateResponse:
		frame, err = decodeAs[ConfigUpdateResponse](data)
	case TypeZTPStartResponse:
		frame, err = decodeAs[ZTPStartResponse](data)
	case TypeSSHCommand:
		frame, err = decodeAs[SSHCommand](data)
	case TypeUpdateConfig, TypeZTPConfig:
		frame, err = decodeAs[UpdateConfig](data)
	case TypeZTPStart:
		frame, err = decodeAs[ZTPStart](data)
	case TypeZTPStop:
		frame, err = decodeAs[ZTPStop](data)
	case TypeGetStatus:
		frame, err = decodeAs[GetStatus](data)
	case TypeGetInventory:
		frame, err = decodeAs[GetInventory](data)
	case TypePing:
		frame, err = decodeAs[Ping](data)
	case TypePong:
		frame, err = decodeAs[Pong](data)
	case "":
		return nil, util.NewProtocolError("decode", "frame missing type")
	default:
		return nil, util.NewProtocolError("decode", "unknown frame type "+head.Type)
	}
	return frame, err
}

func decodeAs[T Frame](data []byte) (Frame, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, util.NewProtocolError("decode", err.Error())
	}
	return f, nil
}
