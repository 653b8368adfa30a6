// Package agent implements the edge-agent side of the control plane: the
// INI configuration, the reconnecting WebSocket client, and the frame
// handlers that bridge the controller to the local ZTP engine.
package agent

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// Defaults for optional INI fields.
const (
	DefaultWebSocketPath     = "/ws/edge-agent"
	DefaultSubnet            = "192.168.1.0/24"
	DefaultCommandTimeout    = 60 * time.Second
	DefaultReconnectInterval = 30 * time.Second
)

// Config is the agent's INI configuration.
type Config struct {
	// [agent]
	AgentID        string
	AgentPassword  string
	AuthToken      string
	WebAppURL      string
	CommandTimeout time.Duration

	// [backend]
	ServerURL         string
	WebSocketPath     string
	ReconnectInterval time.Duration

	// [network]
	Hostname string
	Subnet   string

	// [logging]
	LogLevel string
	LogFile  string
}

// LoadConfig reads and validates the INI file. Missing required fields are
// fatal configuration errors.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, util.NewConfigError(path, "", err.Error())
	}
	return configFromINI(path, file)
}

func configFromINI(source string, file *ini.File) (*Config, error) {
	agentSec := file.Section("agent")
	backendSec := file.Section("backend")
	networkSec := file.Section("network")
	loggingSec := file.Section("logging")

	cfg := &Config{
		AgentID:           agentSec.Key("agent_id").String(),
		AgentPassword:     agentSec.Key("agent_password").String(),
		AuthToken:         agentSec.Key("auth_token").String(),
		WebAppURL:         agentSec.Key("web_app_url").String(),
		CommandTimeout:    secondsOr(agentSec.Key("command_timeout"), DefaultCommandTimeout),
		ServerURL:         backendSec.Key("server_url").String(),
		WebSocketPath:     backendSec.Key("websocket_path").MustString(DefaultWebSocketPath),
		ReconnectInterval: secondsOr(backendSec.Key("reconnect_interval"), DefaultReconnectInterval),
		Hostname:          networkSec.Key("hostname").String(),
		Subnet:            networkSec.Key("subnet").MustString(DefaultSubnet),
		LogLevel:          loggingSec.Key("level").MustString("info"),
		LogFile:           loggingSec.Key("log_file").String(),
	}

	if cfg.AgentID == "" {
		return nil, util.NewConfigError(source, "agent.agent_id", "required")
	}
	if cfg.AuthToken == "" {
		return nil, util.NewConfigError(source, "agent.auth_token", "required")
	}
	if cfg.WebAppURL == "" && cfg.ServerURL == "" {
		return nil, util.NewConfigError(source, "backend.server_url", "required (or agent.web_app_url)")
	}

	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}
	return cfg, nil
}

func secondsOr(key *ini.Key, fallback time.Duration) time.Duration {
	if v, err := key.Int(); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return fallback
}

// serverURL prefers the agent-section URL over the backend one.
func (c *Config) serverURL() string {
	if c.WebAppURL != "" {
		return c.WebAppURL
	}
	return c.ServerURL
}

// WebSocketURL derives the dial target: http(s) schemes map to ws(s), a bare
// host gets wss, and the path is suffixed with the agent id.
func (c *Config) WebSocketURL() string {
	base := c.serverURL()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		// already a websocket URL
	default:
		base = "wss://" + base
	}
	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("%s%s/%s", base, c.WebSocketPath, c.AgentID)
}
