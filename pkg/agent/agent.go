package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/protocol"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
	"github.com/neuralconfig/ruckus-ztp/pkg/version"
	"github.com/neuralconfig/ruckus-ztp/pkg/ztp"
)

// heartbeatInterval is how often the agent reports status upstream.
const heartbeatInterval = 60 * time.Second

// eventBuffer bounds events queued while the uplink is down.
const eventBuffer = 256

// Agent is the edge-agent runtime: one ZTP engine, one reconnecting uplink.
// Construct it in main and pass it around; there is no package-level instance.
type Agent struct {
	cfg    *Config
	engine *ztp.Engine
	runner CommandRunner
	dialer *websocket.Dialer
	events chan model.Event

	// heartbeatEvery is a field so tests can speed the clock up.
	heartbeatEvery time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates an agent with a fresh engine seeded from the built-in ZTP
// defaults; real credentials and seeds arrive from the controller.
func New(cfg *Config) *Agent {
	a := &Agent{
		cfg:            cfg,
		runner:         NewSSHExecutor(cfg.CommandTimeout),
		dialer:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:         make(chan model.Event, eventBuffer),
		heartbeatEvery: heartbeatInterval,
	}

	ztpCfg := ztp.DefaultConfig()
	ztpCfg.BaseConfig = ztp.LoadBaseConfigTemplate("")
	a.engine = ztp.NewEngine(ztpCfg, ztp.DeviceDialer, a.queueEvent)
	return a
}

// Engine exposes the ZTP engine, mainly for status surfaces and tests.
func (a *Agent) Engine() *ztp.Engine { return a.engine }

// queueEvent buffers an engine event for upstream delivery. Events overflow
// rather than block the engine; the periodic inventory_update heals drift.
func (a *Agent) queueEvent(ev model.Event) {
	select {
	case a.events <- ev:
	default:
		util.WithAgent(a.cfg.AgentID).Warn("Event buffer full, dropping event")
	}
}

// Run connects, and on any disconnect sleeps the reconnect interval and
// tries again unconditionally until the context ends.
func (a *Agent) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		util.WithAgent(a.cfg.AgentID).Infof("Connection attempt #%d to %s", attempt, a.cfg.WebSocketURL())
		if err := a.session(ctx); err != nil {
			util.WithAgent(a.cfg.AgentID).Warnf("Connection ended: %v", err)
		}

		select {
		case <-ctx.Done():
			a.engine.Stop()
			return nil
		case <-time.After(a.cfg.ReconnectInterval):
		}
	}
}

// session runs one connection: dial, register, re-announce inventory, then
// pump frames until the socket dies or the context ends.
func (a *Agent) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.AuthToken)

	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.WebSocketURL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: dial rejected with HTTP %d: %v", util.ErrTransport, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial: %v", util.ErrTransport, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		conn.Close()
	}()

	if err := a.send(protocol.Register{
		PiID:          a.cfg.AgentID,
		AgentPassword: a.cfg.AgentPassword,
		Capabilities:  []string{"ssh", "ztp"},
		NetworkInfo:   protocol.NetworkInfo{Hostname: a.cfg.Hostname, Subnet: a.cfg.Subnet},
		Version:       version.Version,
	}); err != nil {
		return err
	}
	util.WithAgent(a.cfg.AgentID).Info("Registered with controller")

	// Re-announce the full inventory so the controller's shadow converges
	// even if events were dropped while disconnected.
	a.engine.EmitInventoryUpdate()

	done := make(chan struct{})
	defer close(done)
	go a.writePump(done)

	return a.readLoop(ctx, conn)
}

// writePump forwards buffered engine events and emits the 60-second status
// heartbeat.
func (a *Agent) writePump(done chan struct{}) {
	ticker := time.NewTicker(a.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-a.events:
			frame := protocol.ZTPEvent{
				EventType: string(ev.Kind),
				Data:      ev.Payload,
				Timestamp: ev.Timestamp.UnixMilli(),
			}
			if err := a.send(frame); err != nil {
				util.WithAgent(a.cfg.AgentID).Warnf("Event send failed: %v", err)
				return
			}
		case <-ticker.C:
			status := a.engine.Status()
			frame := protocol.Status{
				PiID:      a.cfg.AgentID,
				Status:    "online",
				Timestamp: time.Now().UnixMilli(),
				ZTPStatus: &status,
			}
			if err := a.send(frame); err != nil {
				util.WithAgent(a.cfg.AgentID).Warnf("Heartbeat failed: %v", err)
				return
			}
		}
	}
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", util.ErrTransport, err)
		}
		a.dispatch(ctx, data)
	}
}

func (a *Agent) dispatch(ctx context.Context, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		util.WithAgent(a.cfg.AgentID).Warnf("Dropping undecodable frame: %v", err)
		return
	}

	switch f := frame.(type) {
	case protocol.SSHCommand:
		// Runs in the background so a slow device never stalls the uplink.
		go a.handleSSHCommand(ctx, f)
	case protocol.Ping:
		a.send(protocol.Pong{Timestamp: f.Timestamp, PiID: a.cfg.AgentID})
	case protocol.GetStatus:
		status := a.engine.Status()
		a.send(protocol.StatusResponse{RequestID: f.RequestID, Status: status})
	case protocol.GetInventory:
		a.send(protocol.InventoryResponse{RequestID: f.RequestID, Inventory: a.engine.InventorySnapshot()})
	case protocol.UpdateConfig:
		a.handleConfigUpdate(f)
	case protocol.ZTPStart:
		a.handleZTPStart(f)
	case protocol.ZTPStop:
		a.engine.Stop()
		util.WithAgent(a.cfg.AgentID).Info("ZTP stopped by controller")
	case protocol.Pong:
		util.WithAgent(a.cfg.AgentID).Debug("Pong received")
	default:
		util.WithAgent(a.cfg.AgentID).Warnf("Unexpected frame %s", frame.FrameType())
	}
}

func (a *Agent) handleConfigUpdate(f protocol.UpdateConfig) {
	if err := a.engine.UpdateConfiguration(f.Config); err != nil {
		a.send(protocol.ConfigUpdateResponse{
			RequestID: f.RequestID,
			Success:   false,
			Message:   err.Error(),
		})
		return
	}
	a.send(protocol.ConfigUpdateResponse{
		RequestID: f.RequestID,
		Success:   true,
		Message:   "Configuration updated successfully",
	})
	util.WithAgent(a.cfg.AgentID).Info("Configuration updated from controller")
}

func (a *Agent) handleZTPStart(f protocol.ZTPStart) {
	if f.Config != nil {
		if err := a.engine.UpdateConfiguration(*f.Config); err != nil {
			a.send(protocol.ZTPStartResponse{RequestID: f.RequestID, Success: false, Message: err.Error()})
			return
		}
	}
	if err := a.engine.Start(); err != nil {
		a.send(protocol.ZTPStartResponse{RequestID: f.RequestID, Success: false, Message: err.Error()})
		return
	}
	a.send(protocol.ZTPStartResponse{RequestID: f.RequestID, Success: true, Message: "ZTP started"})
}

func (a *Agent) handleSSHCommand(ctx context.Context, f protocol.SSHCommand) {
	timeout := a.cfg.CommandTimeout
	if f.Timeout > 0 {
		timeout = time.Duration(f.Timeout) * time.Second
	}

	log := util.WithAgent(a.cfg.AgentID).WithField("request", util.TruncateID(f.RequestID))
	log.Infof("SSH command for %s: %s", f.TargetIP, f.Command)

	output, elapsedMS, err := a.runner.Execute(ctx, f.TargetIP, f.Username, f.Password, f.Command, timeout)
	result := protocol.CommandResult{RequestID: f.RequestID}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		result.ExecutionTimeMS = 0
		log.Warnf("SSH command failed: %v", err)
	} else {
		result.Success = true
		result.Output = output
		result.ExecutionTimeMS = elapsedMS
		log.Infof("SSH command completed in %s", util.FormatMS(elapsedMS))
	}

	if err := a.send(result); err != nil {
		log.Warnf("Result send failed: %v", err)
	}
}

// send marshals and writes one frame; writes serialise on the agent mutex.
func (a *Agent) send(f protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("%w: not connected", util.ErrTransport)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: send: %v", util.ErrTransport, err)
	}
	return nil
}
