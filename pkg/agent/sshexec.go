package agent

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// CommandRunner executes one ad-hoc command on a device. The production
// implementation is SSHExecutor; tests substitute a scripted one.
type CommandRunner interface {
	Execute(ctx context.Context, host, username, password, command string, timeout time.Duration) (output string, elapsedMS int64, err error)
}

// SSHExecutor runs controller-pushed commands over one-shot SSH sessions.
// Commands against the same target serialise on a per-host mutex, so two
// RPCs hitting one switch can never interleave CLI dialogues.
type SSHExecutor struct {
	defaultTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSSHExecutor creates an executor with the agent's command timeout.
func NewSSHExecutor(defaultTimeout time.Duration) *SSHExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCommandTimeout
	}
	return &SSHExecutor{
		defaultTimeout: defaultTimeout,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (e *SSHExecutor) lockFor(host string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[host]
	if !ok {
		l = &sync.Mutex{}
		e.locks[host] = l
	}
	return l
}

// Execute connects, runs the command, and returns combined output. The
// elapsed time is reported in milliseconds.
func (e *SSHExecutor) Execute(ctx context.Context, host, username, password, command string, timeout time.Duration) (string, int64, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	lock := e.lockFor(host)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(host, "22"), config)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return "", 0, fmt.Errorf("%w: %s@%s", util.ErrAuth, username, host)
		}
		return "", 0, fmt.Errorf("%w: dial %s: %v", util.ErrTransport, host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", 0, fmt.Errorf("%w: session on %s: %v", util.ErrTransport, host, err)
	}
	defer session.Close()

	type execResult struct {
		output []byte
		err    error
	}
	resultCh := make(chan execResult, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		resultCh <- execResult{output: out, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		elapsed := time.Since(start).Milliseconds()
		if res.err != nil {
			return string(res.output), elapsed, fmt.Errorf("%w: %q on %s: %v", util.ErrDevice, command, host, res.err)
		}
		return string(res.output), elapsed, nil
	case <-timer.C:
		// Closing the client unblocks CombinedOutput.
		client.Close()
		return "", 0, fmt.Errorf("%w: %q on %s after %s", util.ErrTimeout, command, host, timeout)
	case <-ctx.Done():
		client.Close()
		return "", 0, fmt.Errorf("%w: %q on %s", util.ErrCancelled, command, host)
	}
}
