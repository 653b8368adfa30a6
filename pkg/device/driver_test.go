package device

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// fakeShell scripts switch responses for driver tests. send records the line
// and pushes whatever the respond callback returns.
type fakeShell struct {
	out     chan []byte
	sent    []string
	respond func(line string) string
}

func newFakeShell(respond func(string) string) *fakeShell {
	return &fakeShell{out: make(chan []byte, 64), respond: respond}
}

func (f *fakeShell) send(s string) error {
	line := strings.TrimSuffix(s, "\n")
	f.sent = append(f.sent, line)
	if r := f.respond(line); r != "" {
		f.out <- []byte(r)
	}
	return nil
}

func (f *fakeShell) push(s string) { f.out <- []byte(s) }

func (f *fakeShell) recv() <-chan []byte { return f.out }

func (f *fakeShell) close() error { return nil }

func (f *fakeShell) sentCommands() string { return strings.Join(f.sent, "\n") }

func testDriver(t *testing.T, creds model.CredentialSet, sh *fakeShell) *Driver {
	t.Helper()
	d := New("10.0.0.2", creds)
	d.settle = 10 * time.Millisecond
	d.Timeout = 300 * time.Millisecond
	d.Trace = func(string, TraceTag) {}
	d.shell = sh
	return d
}

// identityResponder answers the probe commands every session ends with.
func identityResponder(line string) string {
	switch line {
	case "skip-page-display":
		return "Disable page display mode\nSSH@ICX7250-48P Router#"
	case "show version":
		return sampleVersion
	case "show chassis":
		return sampleChassis
	}
	return ""
}

func TestInitializeFirstLogin(t *testing.T) {
	creds := model.CredentialSet{
		Username:          "super",
		DefaultPassword:   "sp-admin",
		PreferredPassword: "newpw!",
	}

	passwordSends := 0
	sh := newFakeShell(func(line string) string {
		if line == "newpw!" {
			passwordSends++
			if passwordSends == 1 {
				return "Enter the reconfirm password: "
			}
			return "Password modified successfully.\nSSH@ICX7250-48P Router#"
		}
		return identityResponder(line)
	})
	sh.push("Please change the password on first login.\nEnter the new password: ")

	d := testDriver(t, creds, sh)
	d.activePassword = creds.DefaultPassword
	if err := d.initialize(creds.DefaultPassword); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if passwordSends != 2 {
		t.Errorf("password sent %d times, want 2 (new + reconfirm)", passwordSends)
	}
	if d.activePassword != "newpw!" {
		t.Errorf("active password = %q, want promoted preferred password", d.activePassword)
	}
	if d.identity.Hostname != "ICX7250-48P-POE-ABC123" {
		t.Errorf("hostname = %q", d.identity.Hostname)
	}
}

func TestInitializeSkipsFirstLoginOnPreferredAuth(t *testing.T) {
	creds := model.CredentialSet{
		Username:          "super",
		DefaultPassword:   "sp-admin",
		PreferredPassword: "newpw!",
	}

	sh := newFakeShell(func(line string) string {
		if line == "" {
			return "SSH@ICX7250-48P Router#"
		}
		return identityResponder(line)
	})
	sh.push("Welcome back.\n")

	d := testDriver(t, creds, sh)
	d.activePassword = creds.PreferredPassword
	if err := d.initialize(creds.PreferredPassword); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if d.activePassword != "newpw!" {
		t.Errorf("active password changed unexpectedly: %q", d.activePassword)
	}
}

func TestInitializeEntersEnableMode(t *testing.T) {
	creds := model.CredentialSet{Username: "super", DefaultPassword: "pw"}

	var enableSeen, enablePasswordSeen bool
	sh := newFakeShell(func(line string) string {
		switch line {
		case "":
			return "ICX7250-48P Router>"
		case "enable":
			enableSeen = true
			return "Password:"
		case "pw":
			enablePasswordSeen = true
			return "SSH@ICX7250-48P Router#"
		}
		return identityResponder(line)
	})
	sh.push("User Access Verification\n")

	d := testDriver(t, creds, sh)
	d.activePassword = "pw"
	if err := d.initialize("pw"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !enableSeen || !enablePasswordSeen {
		t.Errorf("enable dialogue incomplete: enable=%v password=%v", enableSeen, enablePasswordSeen)
	}
}

func TestInitializeNoPromptFails(t *testing.T) {
	sh := newFakeShell(func(line string) string { return "" })
	sh.push("garbage banner with no usable output\n")

	d := testDriver(t, model.CredentialSet{Username: "super", DefaultPassword: "pw"}, sh)
	d.activePassword = "pw"
	err := d.initialize("pw")
	if err == nil {
		t.Fatal("expected protocol error, got nil")
	}
	if !strings.Contains(err.Error(), "no prompt") {
		t.Errorf("error = %v", err)
	}
}

func TestRunDrainsUntilPrompt(t *testing.T) {
	sh := newFakeShell(func(line string) string {
		if line == "show lldp neighbors detail" {
			return "Local port: 1/1/1\n"
		}
		return ""
	})
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	// Trailing prompt arrives in a later chunk.
	go func() {
		time.Sleep(30 * time.Millisecond)
		sh.push("  System name : \"ICX7250-48P-XYZ789\"\nSSH@ICX7250-48P Router#")
	}()

	out, err := d.Run("show lldp neighbors detail", 5*time.Millisecond, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out, "XYZ789") {
		t.Errorf("output missing late chunk: %q", out)
	}
}

func TestRunTimesOutWithoutPrompt(t *testing.T) {
	sh := newFakeShell(func(line string) string { return "streaming forever without prompt\n" })
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	_, err := d.Run("show tech-support", 5*time.Millisecond, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestApplyBlockReportsSuspectLines(t *testing.T) {
	sh := newFakeShell(func(line string) string {
		switch line {
		case "configure terminal":
			return "SSH@sw(config)#"
		case "bogus command":
			return "Invalid input -> bogus command\nSSH@sw(config)#"
		case "end":
			return "SSH@sw#"
		case "write memory":
			return "Write startup-config done.\nSSH@sw#"
		}
		return "SSH@sw(config)#"
	})
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	result, err := d.ApplyBlock([]string{
		"! comment",
		"vlan 10 name Management",
		"bogus command",
		"",
		"spanning-tree 802-1w",
	})
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	if len(result.Lines) != 3 {
		t.Fatalf("applied %d lines, want 3", len(result.Lines))
	}
	if result.SuspectCount() != 1 {
		t.Errorf("suspect count = %d, want 1", result.SuspectCount())
	}
	if !result.SaveConfirmed {
		t.Error("save not confirmed")
	}
	if !strings.Contains(sh.sentCommands(), "write memory") {
		t.Error("write memory never issued")
	}
}

func TestApplyBlockEmptyTemplateSkipsConfigMode(t *testing.T) {
	sh := newFakeShell(func(line string) string { return "SSH@sw#" })
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	result, err := d.ApplyBlock([]string{"!", "", "! nothing real"})
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	if len(sh.sent) != 0 {
		t.Errorf("commands sent for empty block: %v", sh.sent)
	}
	if !result.SaveConfirmed {
		t.Error("empty block should count as saved")
	}
}

func TestWriteMemoryRetriesAbbreviatedForm(t *testing.T) {
	sh := newFakeShell(func(line string) string {
		switch line {
		case "write memory":
			return "% ambiguous response\nSSH@sw#"
		case "wr mem":
			return "Configuration written to flash\nSSH@sw#"
		}
		return "SSH@sw#"
	})
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	if err := d.WriteMemory(); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
}

func TestWriteMemoryUnconfirmedIsSoftFailure(t *testing.T) {
	sh := newFakeShell(func(line string) string { return "% no confirmation here\nSSH@sw#" })
	d := testDriver(t, model.CredentialSet{}, sh)
	d.connected = true

	err := d.WriteMemory()
	if !errors.Is(err, ErrSaveUnconfirmed) {
		t.Fatalf("err = %v, want ErrSaveUnconfirmed", err)
	}
}

func TestRunNotConnected(t *testing.T) {
	d := New("10.0.0.2", model.CredentialSet{})
	if _, err := d.Run("show version", 0, 0); err == nil {
		t.Fatal("expected error on disconnected driver")
	}
}
