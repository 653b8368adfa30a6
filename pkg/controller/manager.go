// Package controller accepts edge-agent WebSocket connections, multiplexes
// RPCs onto them with UUID correlation, and aggregates agent events and
// inventories into a fleet view.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neuralconfig/ruckus-ztp/pkg/audit"
	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/protocol"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
	"github.com/neuralconfig/ruckus-ztp/pkg/ztp"
)

const (
	// maxRequestsPerWindow caps controller→agent SSH RPCs per agent.
	maxRequestsPerWindow = 30
	rateWindow           = time.Minute
	// maxConcurrentSSH caps globally in-flight SSH RPCs.
	maxConcurrentSSH = 10
	// requestGrace extends every RPC deadline past the command timeout to
	// absorb transport latency.
	requestGrace = 15 * time.Second
	// defaultCommandTimeout applies when an RPC passes none.
	defaultCommandTimeout = 30 * time.Second
)

// TokenValidator decides whether a bearer token may register agents.
// The default accepts any non-empty token; deployments replace it.
type TokenValidator func(token string) bool

// NonEmptyToken is the default (stub) validator.
func NonEmptyToken(token string) bool { return token != "" }

// StaticToken validates against one shared secret.
func StaticToken(secret string) TokenValidator {
	return func(token string) bool { return token == secret }
}

// wsConn is the write surface the manager needs; *websocket.Conn satisfies it.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// AgentConn is one connected edge agent and its shadow inventory.
type AgentConn struct {
	AgentID      string
	Hostname     string
	Subnet       string
	Capabilities []string
	Version      string
	ConnectedAt  time.Time

	mu        sync.Mutex
	conn      wsConn
	lastSeen  time.Time
	status    string
	ztpStatus *ztp.Status
	shadow    map[string]*DeviceRecord
}

// send marshals and writes one frame. Writes are serialised per socket.
func (a *AgentConn) send(f protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: send to %s: %v", util.ErrTransport, a.AgentID, err)
	}
	return nil
}

func (a *AgentConn) touch() {
	a.mu.Lock()
	a.lastSeen = time.Now().UTC()
	a.mu.Unlock()
}

// AgentRegistration is the API view of a connected agent.
type AgentRegistration struct {
	AgentID       string      `json:"agent_id"`
	Hostname      string      `json:"hostname"`
	NetworkSubnet string      `json:"network_subnet"`
	Capabilities  []string    `json:"capabilities"`
	Version       string      `json:"version"`
	ConnectedAt   string      `json:"connected_at"` // ISO-8601 UTC
	LastSeen      string      `json:"last_seen"`    // ISO-8601 UTC
	Status        string      `json:"status"`
	ZTPStatus     *ztp.Status `json:"ztp_status,omitempty"`
}

// Registration snapshots the agent for API responses.
func (a *AgentConn) Registration() AgentRegistration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AgentRegistration{
		AgentID:       a.AgentID,
		Hostname:      a.Hostname,
		NetworkSubnet: a.Subnet,
		Capabilities:  a.Capabilities,
		Version:       a.Version,
		ConnectedAt:   a.ConnectedAt.UTC().Format(time.RFC3339),
		LastSeen:      a.lastSeen.UTC().Format(time.RFC3339),
		Status:        a.status,
		ZTPStatus:     a.ztpStatus,
	}
}

type rpcOutcome struct {
	frame protocol.Frame
	err   error
}

type pendingRequest struct {
	agentID string
	ch      chan rpcOutcome
}

// Manager owns the agent registry, the pending-request table, rate limits,
// and the fleet event ring. Construct one at startup and hand it to the
// server and API handlers; there is deliberately no package-level instance.
type Manager struct {
	mu      sync.Mutex
	agents  map[string]*AgentConn
	pending map[string]*pendingRequest

	limiter  *slidingWindow
	sem      chan struct{}
	events   *eventRing
	sink     EventSink
	validate TokenValidator
	auditor  audit.Logger
	// grace pads every RPC deadline; a field so tests can shrink it.
	grace time.Duration
}

// NewManager creates a manager with the default token stub and limits.
func NewManager() *Manager {
	return &Manager{
		agents:   make(map[string]*AgentConn),
		pending:  make(map[string]*pendingRequest),
		limiter:  newSlidingWindow(maxRequestsPerWindow, rateWindow),
		sem:      make(chan struct{}, maxConcurrentSSH),
		events:   newEventRing(maxStoredEvents),
		validate: NonEmptyToken,
		auditor:  audit.NopLogger{},
		grace:    requestGrace,
	}
}

// SetTokenValidator replaces the registration token check.
func (m *Manager) SetTokenValidator(v TokenValidator) {
	if v != nil {
		m.validate = v
	}
}

// SetEventSink attaches an external event sink (e.g. Redis).
func (m *Manager) SetEventSink(s EventSink) { m.sink = s }

// SetAuditor attaches an audit trail for controller-initiated operations.
func (m *Manager) SetAuditor(a audit.Logger) {
	if a != nil {
		m.auditor = a
	}
}

// ValidToken runs the configured validator.
func (m *Manager) ValidToken(token string) bool { return m.validate(token) }

// Register adds a freshly handshaken agent. A previous registration under
// the same id is discarded and its socket closed.
func (m *Manager) Register(reg protocol.Register, conn wsConn) *AgentConn {
	now := time.Now().UTC()
	agent := &AgentConn{
		AgentID:      reg.PiID,
		Hostname:     reg.NetworkInfo.Hostname,
		Subnet:       reg.NetworkInfo.Subnet,
		Capabilities: reg.Capabilities,
		Version:      reg.Version,
		ConnectedAt:  now,
		conn:         conn,
		lastSeen:     now,
		status:       "online",
		shadow:       make(map[string]*DeviceRecord),
	}

	m.mu.Lock()
	old := m.agents[agent.AgentID]
	m.agents[agent.AgentID] = agent
	m.mu.Unlock()

	if old != nil {
		util.WithAgent(agent.AgentID).Warn("Replacing stale registration")
		old.conn.Close()
		m.failPendingForAgent(agent.AgentID)
	}

	util.WithAgent(agent.AgentID).Infof("Edge agent registered (%s)", agent.Hostname)
	return agent
}

// Unregister removes the agent on socket close and fails its in-flight
// requests with a transport error so callers never hit the slow timeout.
func (m *Manager) Unregister(agent *AgentConn) {
	m.mu.Lock()
	if current, ok := m.agents[agent.AgentID]; ok && current == agent {
		delete(m.agents, agent.AgentID)
	}
	m.mu.Unlock()

	agent.mu.Lock()
	agent.status = "offline"
	agent.mu.Unlock()

	m.failPendingForAgent(agent.AgentID)
	m.limiter.Forget(agent.AgentID)
	util.WithAgent(agent.AgentID).Info("Edge agent unregistered")
}

func (m *Manager) failPendingForAgent(agentID string) {
	m.mu.Lock()
	var doomed []*pendingRequest
	for id, p := range m.pending {
		if p.agentID == agentID {
			doomed = append(doomed, p)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	for _, p := range doomed {
		p.ch <- rpcOutcome{err: fmt.Errorf("%w: agent %s disconnected", util.ErrTransport, agentID)}
	}
}

// agent returns the live connection for an id.
func (m *Manager) agent(agentID string) (*AgentConn, error) {
	m.mu.Lock()
	agent, ok := m.agents[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: edge agent %s not connected", util.ErrTransport, agentID)
	}
	return agent, nil
}

// Agents lists registrations for the fleet view.
func (m *Manager) Agents() []AgentRegistration {
	m.mu.Lock()
	conns := make([]*AgentConn, 0, len(m.agents))
	for _, a := range m.agents {
		conns = append(conns, a)
	}
	m.mu.Unlock()

	out := make([]AgentRegistration, 0, len(conns))
	for _, a := range conns {
		out = append(out, a.Registration())
	}
	return out
}

// Agent returns one registration, or false.
func (m *Manager) Agent(agentID string) (AgentRegistration, bool) {
	agent, err := m.agent(agentID)
	if err != nil {
		return AgentRegistration{}, false
	}
	return agent.Registration(), true
}

// HandleFrame processes one inbound frame from an agent. Any inbound frame
// refreshes last_seen.
func (m *Manager) HandleFrame(agent *AgentConn, data []byte) {
	agent.touch()

	frame, err := protocol.Decode(data)
	if err != nil {
		util.WithAgent(agent.AgentID).Warnf("Dropping undecodable frame: %v", err)
		return
	}

	switch f := frame.(type) {
	case protocol.CommandResult:
		m.resolvePending(f.RequestID, f)
	case protocol.StatusResponse:
		m.resolvePending(f.RequestID, f)
	case protocol.InventoryResponse:
		m.resolvePending(f.RequestID, f)
	case protocol.ConfigUpdateResponse:
		m.resolvePending(f.RequestID, f)
	case protocol.ZTPStartResponse:
		m.resolvePending(f.RequestID, f)
	case protocol.Status:
		m.handleStatus(agent, f)
	case protocol.ZTPEvent:
		m.handleZTPEvent(agent, f)
	case protocol.Ping:
		if err := agent.send(protocol.Pong{Timestamp: f.Timestamp}); err != nil {
			util.WithAgent(agent.AgentID).Warnf("Pong failed: %v", err)
		}
	case protocol.Pong:
		util.WithAgent(agent.AgentID).Debug("Pong received")
	default:
		util.WithAgent(agent.AgentID).Warnf("Unexpected frame %s", frame.FrameType())
	}
}

func (m *Manager) handleStatus(agent *AgentConn, f protocol.Status) {
	agent.mu.Lock()
	if f.Status != "" {
		agent.status = f.Status
	}
	agent.ztpStatus = f.ZTPStatus
	agent.mu.Unlock()
}

func (m *Manager) handleZTPEvent(agent *AgentConn, f protocol.ZTPEvent) {
	now := time.Now().UTC()
	ts := now
	if f.Timestamp > 0 {
		ts = time.UnixMilli(f.Timestamp).UTC()
	}

	ev := model.Event{
		Timestamp: ts,
		AgentID:   agent.AgentID,
		Kind:      model.EventKind(f.EventType),
		Payload:   f.Data,
	}
	m.events.Add(ev)
	if m.sink != nil {
		m.sink.Publish(ev)
	}

	agent.mu.Lock()
	switch ev.Kind {
	case model.EventDeviceDiscovered, model.EventDeviceConfigured:
		applyDeviceEvent(agent.shadow, ev.Kind, f.Data, now)
	case model.EventInventoryUpdate:
		agent.shadow = applyInventoryUpdate(f.Data, now)
	}
	agent.mu.Unlock()

	util.WithAgent(agent.AgentID).Debugf("ZTP event %s", f.EventType)
}

// resolvePending completes the future for a request id. Unknown ids are
// logged and dropped: they belong to timed-out or cancelled RPCs.
func (m *Manager) resolvePending(requestID string, frame protocol.Frame) {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()

	if !ok {
		util.WithRequest(util.TruncateID(requestID)).Debug("Late or unknown result dropped")
		return
	}
	p.ch <- rpcOutcome{frame: frame}
}

// Cancel resolves a pending RPC with a cancellation error. A result frame
// arriving later is dropped as unknown.
func (m *Manager) Cancel(requestID string) {
	m.mu.Lock()
	p, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
	}
	m.mu.Unlock()

	if ok {
		p.ch <- rpcOutcome{err: fmt.Errorf("%w: request %s", util.ErrCancelled, util.TruncateID(requestID))}
	}
}

// roundTrip sends a frame and awaits the matching response within
// timeout+grace. Exactly one of result, timeout, or cancellation resolves
// the pending entry.
func (m *Manager) roundTrip(ctx context.Context, agent *AgentConn, requestID string, frame protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	p := &pendingRequest{agentID: agent.AgentID, ch: make(chan rpcOutcome, 1)}
	m.mu.Lock()
	m.pending[requestID] = p
	m.mu.Unlock()

	if err := agent.send(frame); err != nil {
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout + m.grace)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		return out.frame, out.err
	case <-timer.C:
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: request %s to %s", util.ErrTimeout, util.TruncateID(requestID), agent.AgentID)
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, requestID)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: request %s to %s", util.ErrCancelled, util.TruncateID(requestID), agent.AgentID)
	}
}

// ExecuteSSHCommand runs an ad-hoc command on a device behind an agent.
// Subject to the per-agent rolling window and the global concurrency cap;
// over-limit calls fail fast and are never queued.
func (m *Manager) ExecuteSSHCommand(ctx context.Context, agentID, targetIP, username, password, command string, timeout time.Duration) (*protocol.CommandResult, error) {
	agent, err := m.agent(agentID)
	if err != nil {
		return nil, err
	}

	if !m.limiter.Allow(agentID) {
		return nil, &util.RateLimitError{AgentID: agentID, Limit: maxRequestsPerWindow, Window: "60s"}
	}

	select {
	case m.sem <- struct{}{}:
	default:
		return nil, &util.RateLimitError{AgentID: agentID, Limit: maxConcurrentSSH, Window: "concurrent"}
	}
	defer func() { <-m.sem }()

	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	requestID := uuid.NewString()
	frame := protocol.SSHCommand{
		RequestID: requestID,
		TargetIP:  targetIP,
		Username:  username,
		Password:  password,
		Command:   command,
		Timeout:   int(timeout.Seconds()),
	}

	start := time.Now()
	entry := audit.NewEvent(agentID, "ssh_command").
		WithTarget(targetIP).
		WithCommand(command).
		WithRequestID(requestID)

	result, err := m.roundTrip(ctx, agent, requestID, frame, timeout)
	if err != nil {
		m.auditor.Log(entry.WithError(err).WithDuration(time.Since(start)))
		return nil, err
	}
	cr, ok := result.(protocol.CommandResult)
	if !ok {
		return nil, util.NewProtocolError("ssh_command", "response is not a command_result")
	}
	if cr.Success {
		entry.WithSuccess()
	} else {
		entry.Success = false
		entry.Error = cr.Error
	}
	m.auditor.Log(entry.WithDuration(time.Since(start)))
	return &cr, nil
}

// RequestStatus fetches the agent's ZTP status. Exempt from rate limits.
func (m *Manager) RequestStatus(ctx context.Context, agentID string) (*ztp.Status, error) {
	agent, err := m.agent(agentID)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	result, err := m.roundTrip(ctx, agent, requestID, protocol.GetStatus{RequestID: requestID}, defaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	sr, ok := result.(protocol.StatusResponse)
	if !ok {
		return nil, util.NewProtocolError("get_status", "response is not a status_response")
	}
	return &sr.Status, nil
}

// RequestInventory fetches the agent's authoritative inventory.
func (m *Manager) RequestInventory(ctx context.Context, agentID string) (*model.Inventory, error) {
	agent, err := m.agent(agentID)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	result, err := m.roundTrip(ctx, agent, requestID, protocol.GetInventory{RequestID: requestID}, defaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	ir, ok := result.(protocol.InventoryResponse)
	if !ok {
		return nil, util.NewProtocolError("get_inventory", "response is not an inventory_response")
	}
	return ir.Inventory, nil
}

// PushConfig replaces the agent's ZTP configuration.
func (m *Manager) PushConfig(ctx context.Context, agentID string, cfg ztp.Config) (*protocol.ConfigUpdateResponse, error) {
	agent, err := m.agent(agentID)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	entry := audit.NewEvent(agentID, "update_config").WithRequestID(requestID)
	result, err := m.roundTrip(ctx, agent, requestID, protocol.UpdateConfig{RequestID: requestID, Config: cfg}, defaultCommandTimeout)
	if err != nil {
		m.auditor.Log(entry.WithError(err))
		return nil, err
	}
	resp, ok := result.(protocol.ConfigUpdateResponse)
	if !ok {
		return nil, util.NewProtocolError("update_config", "response is not a config_update_response")
	}
	m.auditor.Log(entry.WithSuccess())
	return &resp, nil
}

// StartZTP pushes optional config and starts the agent's engine.
func (m *Manager) StartZTP(ctx context.Context, agentID string, cfg *ztp.Config) (*protocol.ZTPStartResponse, error) {
	agent, err := m.agent(agentID)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	entry := audit.NewEvent(agentID, "ztp_start").WithRequestID(requestID)
	result, err := m.roundTrip(ctx, agent, requestID, protocol.ZTPStart{RequestID: requestID, Config: cfg}, defaultCommandTimeout)
	if err != nil {
		m.auditor.Log(entry.WithError(err))
		return nil, err
	}
	resp, ok := result.(protocol.ZTPStartResponse)
	if !ok {
		return nil, util.NewProtocolError("ztp_start", "response is not a ztp_start_response")
	}
	m.auditor.Log(entry.WithSuccess())
	return &resp, nil
}

// StopZTP asks the agent to stop its engine. Fire-and-forget.
func (m *Manager) StopZTP(agentID string) error {
	agent, err := m.agent(agentID)
	if err != nil {
		return err
	}
	err = agent.send(protocol.ZTPStop{})
	entry := audit.NewEvent(agentID, "ztp_stop")
	if err != nil {
		m.auditor.Log(entry.WithError(err))
		return err
	}
	m.auditor.Log(entry.WithSuccess())
	return nil
}

// SendPing issues a protocol-level ping.
func (m *Manager) SendPing(agentID string) error {
	agent, err := m.agent(agentID)
	if err != nil {
		return err
	}
	return agent.send(protocol.Ping{Timestamp: time.Now().UnixMilli()})
}

// RecentEvents returns up to limit fleet events, newest first.
func (m *Manager) RecentEvents(limit int) []model.Event {
	return m.events.Recent(limit)
}

// DeviceInventory merges every agent's shadow into one fleet view, stamping
// each record with its owning agent.
func (m *Manager) DeviceInventory() map[string]*DeviceRecord {
	m.mu.Lock()
	conns := make([]*AgentConn, 0, len(m.agents))
	for _, a := range m.agents {
		conns = append(conns, a)
	}
	m.mu.Unlock()

	combined := make(map[string]*DeviceRecord)
	for _, a := range conns {
		a.mu.Lock()
		for mac, rec := range a.shadow {
			c := *rec
			c.AgentID = a.AgentID
			c.AgentHostname = a.Hostname
			combined[mac] = &c
		}
		a.mu.Unlock()
	}
	return combined
}

// PendingCount reports in-flight RPCs; zero after every RPC has resolved
// one way or another.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
