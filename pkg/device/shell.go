package device

import (
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// shellConn is the interactive channel surface the driver drives. The
// production implementation wraps an ssh.Session with a pty; tests substitute
// a scripted fake.
type shellConn interface {
	send(s string) error
	// recv yields raw output chunks. The channel is closed when the remote
	// side closes the stream.
	recv() <-chan []byte
	close() error
}

// sshShell is a shellConn over an ssh.Session with a requested pty, so the
// switch presents its interactive CLI rather than exec semantics.
type sshShell struct {
	sess  *ssh.Session
	stdin io.WriteCloser
	out   chan []byte
	once  sync.Once
}

func newSSHShell(client *ssh.Client) (*sshShell, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 200, 80, modes); err != nil {
		sess.Close()
		return nil, err
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, err
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, err
	}

	s := &sshShell{
		sess:  sess,
		stdin: stdin,
		out:   make(chan []byte, 32),
	}
	go s.readLoop(stdout)
	return s, nil
}

// readLoop pumps the shell output into the chunk channel in 4 KiB reads,
// matching the switch-side buffering the CLI was tuned against.
func (s *sshShell) readLoop(r io.Reader) {
	defer close(s.out)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (s *sshShell) send(str string) error {
	_, err := io.WriteString(s.stdin, str)
	return err
}

func (s *sshShell) recv() <-chan []byte {
	return s.out
}

func (s *sshShell) close() error {
	var err error
	s.once.Do(func() {
		s.stdin.Close()
		err = s.sess.Close()
	})
	return err
}
