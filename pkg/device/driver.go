// Package device drives one RUCKUS ICX switch over an interactive SSH shell.
// It hides prompt semantics, pagination, enable mode, and the factory
// first-login password change behind a synchronous command interface.
package device

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// first-login and save markers as FastIron prints them
const (
	promptChangePassword  = "Please change the password"
	promptEnterNewPass    = "Enter the new password"
	promptReconfirmPass   = "Enter the reconfirm password"
	promptPasswordOK      = "Password modified successfully"
	promptEnablePassword  = "Password:"
	defaultCommandTimeout = 30 * time.Second
	defaultCommandWait    = 1 * time.Second
	bannerWait            = 2 * time.Second
)

// ErrSaveUnconfirmed is returned when `write memory` runs but flash-write
// confirmation never appears. The session stays usable.
var ErrSaveUnconfirmed = fmt.Errorf("%w: write memory not confirmed", util.ErrDevice)

// dialFunc lets tests intercept the TCP+SSH dial.
type dialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Driver is a stateful session to one switch. All operations are serialised
// by an internal mutex that deliberately spans full command sequences, so two
// callers can never interleave half-finished CLI dialogues.
type Driver struct {
	ip    string
	creds model.CredentialSet

	// Timeout bounds each command's prompt drain.
	Timeout time.Duration
	// Trace receives every shell send/recv line. Defaults to logrus debug.
	Trace TraceFunc

	dial dialFunc
	// settle is how long banner and dialogue reads linger for slow consoles.
	settle time.Duration

	mu        sync.Mutex
	client    *ssh.Client
	shell     shellConn
	connected bool
	enabled   bool

	// activePassword is whichever candidate authenticated, promoted to the
	// preferred password after a first-login change.
	activePassword string

	identity      Identity
	chassisMAC    string
	versionOutput string
}

// New creates a driver for one switch. No I/O happens until Connect.
func New(ip string, creds model.CredentialSet) *Driver {
	d := &Driver{
		ip:      ip,
		creds:   creds,
		Timeout: defaultCommandTimeout,
		dial:    ssh.Dial,
		settle:  bannerWait,
	}
	d.Trace = logTrace(ip)
	return d
}

// IP returns the switch address this driver targets.
func (d *Driver) IP() string { return d.ip }

// Identity returns the probed model/serial/hostname. Valid after Connect.
func (d *Driver) Identity() Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

// ChassisMAC returns the probed management MAC, colon form, or "".
func (d *Driver) ChassisMAC() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chassisMAC
}

// ActivePassword returns whichever password currently authenticates. After a
// first-login change this is the preferred password.
func (d *Driver) ActivePassword() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activePassword
}

// VersionOutput returns the raw `show version` text cached at connect time.
func (d *Driver) VersionOutput() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.versionOutput
}

// Connected reports whether the session is established and usable.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect establishes the session: SSH auth (default password first, then
// preferred), first-login password rotation when the factory banner appears,
// prompt recovery, enable mode, pagination off, and the identity probe.
// Idempotent while connected.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return nil
	}

	client, used, err := d.dialWithPasswords()
	if err != nil {
		return err
	}

	sh, err := newSSHShell(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("%w: opening shell on %s: %v", util.ErrTransport, d.ip, err)
	}

	d.client = client
	d.shell = sh
	d.activePassword = used

	if err := d.initialize(used); err != nil {
		d.teardownLocked()
		return err
	}

	d.connected = true
	util.WithSwitch(d.ip).Info("Connected")
	return nil
}

// dialWithPasswords tries the default password, then the preferred password
// if it differs. Remembers which one worked.
func (d *Driver) dialWithPasswords() (*ssh.Client, string, error) {
	candidates := []string{d.creds.DefaultPassword}
	if p := d.creds.PreferredPassword; p != "" && p != d.creds.DefaultPassword {
		candidates = append(candidates, p)
	}

	var lastErr error
	for _, pw := range candidates {
		config := &ssh.ClientConfig{
			User: d.creds.Username,
			Auth: []ssh.AuthMethod{ssh.Password(pw)},
			// Factory-state switches have no enrollable host key yet.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		}
		client, err := d.dial("tcp", net.JoinHostPort(d.ip, "22"), config)
		if err == nil {
			return client, pw, nil
		}
		lastErr = err
		if !isAuthError(err) {
			return nil, "", fmt.Errorf("%w: dial %s: %v", util.ErrTransport, d.ip, err)
		}
		d.Trace(fmt.Sprintf("authentication failed for %s with candidate password", d.creds.Username), TraceError)
	}
	return nil, "", fmt.Errorf("%w: %s@%s: %v", util.ErrAuth, d.creds.Username, d.ip, lastErr)
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// initialize runs the post-auth dialogue to a usable privileged prompt.
func (d *Driver) initialize(usedPassword string) error {
	banner := d.readFor(d.settle)
	d.Trace(banner, TraceRecv)

	// Factory first login only happens on the default password.
	if usedPassword == d.creds.DefaultPassword &&
		(strings.Contains(banner, promptChangePassword) || strings.Contains(banner, promptEnterNewPass)) {
		if err := d.firstLogin(); err != nil {
			return err
		}
	} else {
		if err := d.recoverPrompt(banner); err != nil {
			return err
		}
	}

	// Pagination off for the whole session.
	d.sendLine("skip-page-display")
	d.readFor(d.settle)

	return d.probeIdentity()
}

// firstLogin answers the factory password-change dialogue with the preferred
// password and promotes it to the active password.
func (d *Driver) firstLogin() error {
	newPass := d.creds.PreferredPassword
	if newPass == "" {
		newPass = d.creds.DefaultPassword
	}

	d.Trace("first-login password change detected", TraceInfo)
	d.sendSecret(newPass)
	response := d.readFor(d.settle)
	d.Trace(response, TraceRecv)

	if strings.Contains(response, promptReconfirmPass) {
		d.sendSecret(newPass)
		response = d.readFor(d.settle)
		d.Trace(response, TraceRecv)
		if !strings.Contains(response, promptPasswordOK) {
			return util.NewProtocolError("first-login", "password change not confirmed")
		}
	}

	d.activePassword = newPass
	d.Trace("password rotated to preferred password", TraceInfo)
	return nil
}

// recoverPrompt elicits a CLI prompt with bare newlines and enters enable
// mode if the switch presented the user-mode prompt.
func (d *Driver) recoverPrompt(sofar string) error {
	output := sofar
	for attempt := 0; attempt < 2 && !hasPrompt(output); attempt++ {
		d.sendLine("")
		chunk := d.readFor(d.settle)
		d.Trace(chunk, TraceRecv)
		output += chunk
	}
	if !hasPrompt(output) {
		return util.NewProtocolError("connect", "no prompt observed after banner")
	}

	if !strings.Contains(output, "#") {
		d.sendLine("enable")
		response := d.readFor(d.settle)
		d.Trace(response, TraceRecv)
		if strings.Contains(response, promptEnablePassword) {
			d.sendSecret(d.activePassword)
			d.readFor(d.settle)
		}
	}
	d.enabled = true
	return nil
}

// probeIdentity runs `show version` and `show chassis` to learn model,
// serial, and management MAC. The hostname convention is <model>-<serial>.
func (d *Driver) probeIdentity() error {
	out, err := d.runLocked("show version", d.settle, d.Timeout)
	if err != nil {
		return err
	}
	d.versionOutput = out
	d.identity = ParseVersion(out)
	if d.identity.Model == "" {
		util.WithSwitch(d.ip).Warn("Could not parse model from show version")
	}

	out, err = d.runLocked("show chassis", d.settle, d.Timeout)
	if err != nil {
		return err
	}
	d.chassisMAC = ParseChassisMAC(out)
	return nil
}

// Run sends one command, waits `wait`, then drains the shell until a prompt
// reappears or `timeout` elapses. Zero values take the driver defaults.
// The returned output includes everything drained, prompt included.
func (d *Driver) Run(command string, wait, timeout time.Duration) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return "", util.NewDeviceError(d.ip, command, "not connected")
	}
	return d.runLocked(command, wait, timeout)
}

func (d *Driver) runLocked(command string, wait, timeout time.Duration) (string, error) {
	if wait <= 0 {
		wait = defaultCommandWait
	}
	if timeout <= 0 {
		timeout = d.Timeout
	}

	d.sendLine(command)
	output := d.readFor(wait)

	deadline := time.Now().Add(timeout)
	for !endsWithPrompt(output) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			d.Trace(output, TraceRecv)
			return output, fmt.Errorf("%w: no prompt after %q on %s", util.ErrTimeout, command, d.ip)
		}
		chunk, ok := d.readChunk(remaining)
		if !ok {
			d.Trace(output, TraceRecv)
			return output, fmt.Errorf("%w: shell closed during %q on %s", util.ErrTransport, command, d.ip)
		}
		output += chunk
	}

	d.Trace(output, TraceRecv)
	return output, nil
}

// EnterConfig brackets into `configure terminal`.
func (d *Driver) EnterConfig() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enterConfigLocked()
}

func (d *Driver) enterConfigLocked() error {
	out, err := d.runLocked("configure terminal", d.settle, d.Timeout)
	if err != nil {
		return err
	}
	if responseSuspect(out) {
		return util.NewDeviceError(d.ip, "configure terminal", strings.TrimSpace(out))
	}
	return nil
}

// ExitConfig leaves config mode. With save it issues `write memory` and
// confirms the flash write, retrying once with the abbreviated form; an
// unconfirmed save returns ErrSaveUnconfirmed but leaves the session alive.
func (d *Driver) ExitConfig(save bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitConfigLocked(save)
}

func (d *Driver) exitConfigLocked(save bool) error {
	if _, err := d.runLocked("end", defaultCommandWait, d.Timeout); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return d.writeMemoryLocked()
}

// WriteMemory saves the running config to flash and confirms it.
func (d *Driver) WriteMemory() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeMemoryLocked()
}

func (d *Driver) writeMemoryLocked() error {
	out, err := d.runLocked("write memory", 3*time.Second, d.Timeout)
	if err == nil && saveConfirmed(out) {
		return nil
	}

	// Some FastIron builds only acknowledge the abbreviated form.
	out, err = d.runLocked("wr mem", 3*time.Second, d.Timeout)
	if err == nil && saveConfirmed(out) {
		return nil
	}
	return ErrSaveUnconfirmed
}

// LineResult is the per-line diagnostic from ApplyBlock.
type LineResult struct {
	Line    string
	Output  string
	Suspect bool
}

// BlockResult reports what happened to an applied configuration block.
type BlockResult struct {
	Lines         []LineResult
	SaveConfirmed bool
}

// SuspectCount returns how many lines drew an error/invalid response.
func (r *BlockResult) SuspectCount() int {
	n := 0
	for _, l := range r.Lines {
		if l.Suspect {
			n++
		}
	}
	return n
}

// ApplyBlock filters comments and blanks, applies the remaining lines under
// `configure terminal`, and exits with a save. A suspect response on one line
// does not abort the rest of the block; the caller gets per-line diagnostics.
func (d *Driver) ApplyBlock(lines []string) (*BlockResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, util.NewDeviceError(d.ip, "apply block", "not connected")
	}

	commands := FilterConfigLines(lines)
	result := &BlockResult{Lines: make([]LineResult, 0, len(commands))}
	if len(commands) == 0 {
		result.SaveConfirmed = true
		return result, nil
	}

	if err := d.enterConfigLocked(); err != nil {
		return result, err
	}

	for _, cmd := range commands {
		out, err := d.runLocked(cmd, defaultCommandWait, d.Timeout)
		if err != nil {
			// The shell is in an unknown nesting depth; bail out of config
			// mode before reporting.
			d.exitConfigLocked(false)
			return result, err
		}
		lr := LineResult{Line: cmd, Output: out, Suspect: responseSuspect(out)}
		if lr.Suspect {
			util.WithSwitch(d.ip).Warnf("Suspect response to %q", cmd)
		}
		result.Lines = append(result.Lines, lr)
	}

	err := d.exitConfigLocked(true)
	result.SaveConfirmed = err == nil
	if errors.Is(err, ErrSaveUnconfirmed) {
		util.WithSwitch(d.ip).Warn("Configuration applied but save unconfirmed")
		return result, nil
	}
	return result, err
}

// FetchLLDPNeighbors runs the detail query and parses it.
func (d *Driver) FetchLLDPNeighbors() ([]LLDPNeighbor, error) {
	out, err := d.Run("show lldp neighbors detail", d.settle, d.Timeout)
	if err != nil {
		return nil, err
	}
	return ParseLLDPNeighbors(out), nil
}

// Close tears the session down. Safe to call repeatedly and when half-open.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	return nil
}

func (d *Driver) teardownLocked() {
	if d.shell != nil {
		d.shell.close()
		d.shell = nil
	}
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
	d.connected = false
	d.enabled = false
}

// sendLine writes a command with its terminating newline.
func (d *Driver) sendLine(cmd string) {
	d.Trace(cmd, TraceSend)
	if err := d.shell.send(cmd + "\n"); err != nil {
		d.Trace(fmt.Sprintf("send failed: %v", err), TraceError)
	}
}

// sendSecret writes a password line without tracing its content.
func (d *Driver) sendSecret(secret string) {
	d.Trace(strings.Repeat("*", len(secret)), TraceSend)
	if err := d.shell.send(secret + "\n"); err != nil {
		d.Trace(fmt.Sprintf("send failed: %v", err), TraceError)
	}
}

// readFor collects whatever arrives within the window.
func (d *Driver) readFor(window time.Duration) string {
	var b strings.Builder
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case chunk, ok := <-d.shell.recv():
			if !ok {
				return b.String()
			}
			b.Write(chunk)
		case <-timer.C:
			return b.String()
		}
	}
}

// readChunk waits up to `limit` for the next output chunk.
func (d *Driver) readChunk(limit time.Duration) (string, bool) {
	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case chunk, ok := <-d.shell.recv():
		if !ok {
			return "", false
		}
		return string(chunk), true
	case <-timer.C:
		return "", true
	}
}

// FilterConfigLines drops blanks and `!` comment lines from a template.
func FilterConfigLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
