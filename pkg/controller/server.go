package controller

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neuralconfig/ruckus-ztp/pkg/protocol"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

const (
	// keepaliveInterval / pongTimeout implement the transport-level
	// liveness probe under the JSON protocol.
	keepaliveInterval = 30 * time.Second
	pongTimeout       = 10 * time.Second
)

// registrationTimeout is how long a fresh socket gets to register.
// A variable so the boundary is testable without ten-second sleeps.
var registrationTimeout = 10 * time.Second

// Server terminates agent WebSocket connections at /ws/edge-agent/<agent_id>
// and feeds frames into the Manager.
type Server struct {
	mgr      *Manager
	upgrader websocket.Upgrader
}

// NewServer wraps a manager with the WebSocket endpoint.
func NewServer(mgr *Manager) *Server {
	return &Server{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP mux for the agent endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/edge-agent/", s.handleAgent)
	return mux
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	agentID := strings.TrimPrefix(r.URL.Path, "/ws/edge-agent/")
	if agentID == "" || strings.Contains(agentID, "/") {
		http.NotFound(w, r)
		return
	}

	token := bearerToken(r.Header.Get("Authorization"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.WithAgent(agentID).Warnf("Upgrade failed: %v", err)
		return
	}

	if !s.mgr.ValidToken(token) {
		util.WithAgent(agentID).Warn("Invalid authentication token")
		closeWith(conn, websocket.ClosePolicyViolation, "Invalid authentication")
		return
	}

	reg, ok := awaitRegistration(conn)
	if !ok {
		util.WithAgent(agentID).Warn("Registration timeout")
		closeWith(conn, websocket.CloseProtocolError, "Registration timeout")
		return
	}
	if reg.PiID == "" {
		reg.PiID = agentID
	}

	agent := s.mgr.Register(reg, conn)
	defer s.mgr.Unregister(agent)
	s.readLoop(agent, conn)
}

// awaitRegistration enforces the 10-second registration deadline. Anything
// other than a register frame within the window fails the handshake.
func awaitRegistration(conn *websocket.Conn) (protocol.Register, bool) {
	conn.SetReadDeadline(time.Now().Add(registrationTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Register{}, false
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		return protocol.Register{}, false
	}
	reg, ok := frame.(protocol.Register)
	return reg, ok
}

// readLoop pumps frames until the socket dies, keeping the connection alive
// with control-frame pings every keepaliveInterval.
func (s *Server) readLoop(agent *AgentConn, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(keepaliveInterval + pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(keepaliveInterval + pongTimeout))
		agent.touch()
		return nil
	})

	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(pongTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.WithAgent(agent.AgentID).Debugf("Socket closed: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(keepaliveInterval + pongTimeout))
		s.mgr.HandleFrame(agent, data)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
