package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent("edge-001", "ssh_command")

	if event.AgentID != "edge-001" {
		t.Errorf("AgentID = %q, want %q", event.AgentID, "edge-001")
	}
	if event.Operation != "ssh_command" {
		t.Errorf("Operation = %q, want %q", event.Operation, "ssh_command")
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent("edge-001", "ssh_command").
		WithTarget("10.0.0.2").
		WithCommand("show version").
		WithRequestID("req-1").
		WithSuccess().
		WithDuration(time.Second)

	if event.TargetIP != "10.0.0.2" {
		t.Errorf("TargetIP = %q", event.TargetIP)
	}
	if event.Command != "show version" {
		t.Errorf("Command = %q", event.Command)
	}
	if event.RequestID != "req-1" {
		t.Errorf("RequestID = %q", event.RequestID)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
	if event.Duration != time.Second {
		t.Errorf("Duration = %v", event.Duration)
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent("edge-001", "ztp_start").
		WithError(errors.New("agent offline"))

	if event.Success {
		t.Error("Success should be false")
	}
	if event.Error != "agent offline" {
		t.Errorf("Error = %q", event.Error)
	}

	event = NewEvent("edge-001", "ztp_start").WithError(nil)
	if event.Error != "" {
		t.Errorf("nil error should leave Error empty, got %q", event.Error)
	}
}

func TestFileLogger_LogAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	defer logger.Close()

	events := []*Event{
		NewEvent("edge-001", "ssh_command").WithTarget("10.0.0.2").WithSuccess(),
		NewEvent("edge-001", "ztp_start").WithSuccess(),
		NewEvent("edge-002", "ssh_command").WithTarget("10.0.0.5").WithError(errors.New("timeout")),
	}
	for _, ev := range events {
		if err := logger.Log(ev); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	all, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(all))
	}

	byAgent, err := logger.Query(Filter{AgentID: "edge-001"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAgent) != 2 {
		t.Errorf("agent filter returned %d events, want 2", len(byAgent))
	}

	failures, err := logger.Query(Filter{FailureOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].AgentID != "edge-002" {
		t.Errorf("failure filter returned %+v", failures)
	}

	limited, err := logger.Query(Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d events", len(limited))
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(path, RotationConfig{MaxSize: 200, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	for i := 0; i < 20; i++ {
		ev := NewEvent("edge-001", "ssh_command").WithCommand("show running-config").WithSuccess()
		if err := logger.Log(ev); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	rotated := 0
	for _, e := range entries {
		if e.Name() != "audit.log" {
			rotated++
		}
	}
	if rotated == 0 {
		t.Error("no rotated files produced")
	}
	if rotated > 2 {
		t.Errorf("%d rotated files survived, want at most MaxBackups=2", rotated)
	}
}

func TestFileLogger_QueryMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.log")
	logger, err := NewFileLogger(path, RotationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	logger.Close()
	os.Remove(path)

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query on missing file: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}
