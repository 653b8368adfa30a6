package ztp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/device"
	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// fakeSession scripts one switch for engine tests.
type fakeSession struct {
	identity device.Identity
	mac      string
	active   string
	lldp     []device.LLDPNeighbor

	connectErr  error
	applyErr    error
	applyErrs   int // fail this many ApplyBlock calls, then succeed
	writeMemErr error

	connects int
	applied  [][]string
	writes   int
}

func (f *fakeSession) Connect() error {
	f.connects++
	return f.connectErr
}
func (f *fakeSession) Identity() device.Identity { return f.identity }

func (f *fakeSession) ChassisMAC() string { return f.mac }

func (f *fakeSession) ActivePassword() string { return f.active }
func (f *fakeSession) Run(string, time.Duration, time.Duration) (string, error) {
	return "", nil
}
func (f *fakeSession) ApplyBlock(lines []string) (*device.BlockResult, error) {
	if f.applyErrs > 0 {
		f.applyErrs--
		return nil, errors.New("scripted apply failure")
	}
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, device.FilterConfigLines(lines))
	return &device.BlockResult{SaveConfirmed: true}, nil
}
func (f *fakeSession) WriteMemory() error {
	f.writes++
	return f.writeMemErr
}
func (f *fakeSession) FetchLLDPNeighbors() ([]device.LLDPNeighbor, error) {
	return f.lldp, nil
}
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) appliedLines() string {
	var all []string
	for _, block := range f.applied {
		all = append(all, block...)
	}
	return strings.Join(all, "\n")
}

type eventLog struct {
	events []model.Event
}

func (l *eventLog) emit(ev model.Event) { l.events = append(l.events, ev) }

func (l *eventLog) kinds() []model.EventKind {
	out := make([]model.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (l *eventLog) count(kind model.EventKind) int {
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Credentials = []model.CredentialSet{{
		Username:          "super",
		DefaultPassword:   "sp-admin",
		PreferredPassword: "newpw!",
	}}
	cfg.SeedSwitches = []string{"10.0.0.2"}
	cfg.Gateway = "10.0.0.1"
	return cfg
}

func seedSession() *fakeSession {
	return &fakeSession{
		identity: device.Identity{
			Model:    "ICX7250-48P",
			Serial:   "ABC123",
			Hostname: "ICX7250-48P-ABC123",
		},
		mac:    "cc:4e:24:38:7a:80",
		active: "newpw!",
		lldp: []device.LLDPNeighbor{
			{
				LocalPort:    "1/1/1",
				SystemName:   "ICX7250-48P-XYZ789",
				ChassisMAC:   "cc:4e:24:38:7b:00",
				ManagementIP: "10.0.0.5",
			},
			{
				LocalPort:       "1/1/2",
				SystemName:      "RUCKUS-AP-001",
				PortDescription: "eth0",
				ChassisMAC:      "94:b3:4f:11:22:33",
			},
		},
	}
}

// engineWith builds an engine whose dialer serves scripted sessions by IP.
func engineWith(cfg Config, sessions map[string]*fakeSession, log *eventLog) *Engine {
	dialer := func(ip string, creds model.CredentialSet) Session {
		if s, ok := sessions[ip]; ok {
			return s
		}
		return &fakeSession{connectErr: errors.New("no route to host")}
	}
	return NewEngine(cfg, dialer, log.emit)
}

// drive runs poll iterations until the predicate holds or the budget runs out.
func drive(t *testing.T, e *Engine, iterations int, pred func() bool) {
	t.Helper()
	for i := 0; i < iterations; i++ {
		e.pollOnce(context.Background())
		if pred() {
			return
		}
	}
	t.Fatalf("condition not reached within %d poll iterations", iterations)
}

func TestSeedProvisioningReachesConfigured(t *testing.T) {
	sess := seedSession()
	log := &eventLog{}
	e := engineWith(testConfig(), map[string]*fakeSession{"10.0.0.2": sess}, log)

	var seed *model.Switch
	drive(t, e, 10, func() bool {
		seed = e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
		return seed != nil && seed.Configured
	})

	if seed.Hostname != "ICX7250-48P-ABC123" {
		t.Errorf("hostname = %q, want ICX7250-48P-ABC123", seed.Hostname)
	}
	if !seed.BaseConfigApplied {
		t.Error("configured switch without base_config_applied violates the invariant")
	}
	if !seed.IsSeed {
		t.Error("seed flag lost during re-key")
	}
	if seed.Status != model.StatusConfigured {
		t.Errorf("status = %q", seed.Status)
	}

	// Ordering: discovered before configured.
	kinds := log.kinds()
	discovered, configured := -1, -1
	for i, k := range kinds {
		if k == model.EventDeviceDiscovered && discovered == -1 {
			discovered = i
		}
		if k == model.EventDeviceConfigured {
			configured = i
		}
	}
	if discovered == -1 || configured == -1 || discovered > configured {
		t.Errorf("event order wrong: %v", kinds)
	}

	applied := sess.appliedLines()
	for _, want := range []string{
		"vlan 10 name Management",
		"hostname ICX7250-48P-ABC123",
		"interface ve 10",
		"ip address 10.0.0.2 255.255.255.0",
		"ip route 0.0.0.0 0.0.0.0 10.0.0.1",
	} {
		if !strings.Contains(applied, want) {
			t.Errorf("applied config missing %q", want)
		}
	}
}

func TestLLDPExpansionConfiguresPortsAndGrowsInventory(t *testing.T) {
	sess := seedSession()
	log := &eventLog{}
	e := engineWith(testConfig(), map[string]*fakeSession{"10.0.0.2": sess}, log)

	drive(t, e, 10, func() bool {
		sw := e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
		return sw != nil && sw.Configured
	})

	applied := sess.appliedLines()
	// Switch-facing trunk on 1/1/1.
	if !strings.Contains(applied, "interface ethernet 1/1/1") ||
		!strings.Contains(applied, "vlan-config add all-tagged") {
		t.Errorf("trunk port config missing:\n%s", applied)
	}
	// AP-facing port on 1/1/2: untagged mgmt, tagged wireless set.
	for _, want := range []string{
		"interface ethernet 1/1/2",
		"vlan-config add untagged-vlan 10",
		"vlan-config add tagged-vlan 20",
		"vlan-config add tagged-vlan 30",
		"vlan-config add tagged-vlan 40",
		"spanning-tree 802-1w admin-edge-port",
	} {
		if !strings.Contains(applied, want) {
			t.Errorf("AP port config missing %q", want)
		}
	}

	inv := e.InventorySnapshot()
	neighbor, ok := inv.Switches["cc:4e:24:38:7b:00"]
	if !ok {
		t.Fatal("discovered switch not enqueued")
	}
	if neighbor.IP != "10.0.0.5" || neighbor.IsSeed {
		t.Errorf("neighbor record = %+v", neighbor)
	}
	ap, ok := inv.APs["94:b3:4f:11:22:33"]
	if !ok {
		t.Fatal("discovered AP not recorded")
	}
	if ap.ConnectedPort != "1/1/2" || !ap.Configured {
		t.Errorf("AP record = %+v", ap)
	}
}

func TestMACsStayUniqueAcrossRepeatedDiscovery(t *testing.T) {
	sess := seedSession()
	log := &eventLog{}
	e := engineWith(testConfig(), map[string]*fakeSession{"10.0.0.2": sess}, log)

	drive(t, e, 10, func() bool {
		sw := e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
		return sw != nil && sw.Configured
	})

	// Run more polls; discovery results must not duplicate records.
	for i := 0; i < 3; i++ {
		e.pollOnce(context.Background())
	}

	inv := e.InventorySnapshot()
	if _, dup := inv.Switches["seed:10.0.0.2"]; dup {
		t.Error("placeholder seed key survived re-keying to MAC")
	}
	if n := len(inv.Switches); n != 2 {
		t.Errorf("switch count = %d, want 2 (seed + discovered)", n)
	}
}

func TestRetryResumesFromLastDurableState(t *testing.T) {
	sess := seedSession()
	sess.applyErrs = 1 // first ApplyBlock (base config) fails
	log := &eventLog{}
	e := engineWith(testConfig(), map[string]*fakeSession{"10.0.0.2": sess}, log)

	// new -> connecting -> connected -> (base apply fails) -> error
	for i := 0; i < 3; i++ {
		e.pollOnce(context.Background())
	}
	snap := e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
	if snap == nil || snap.Status != model.StatusError {
		t.Fatalf("expected error state, got %+v", snap)
	}
	if log.count(model.EventError) == 0 {
		t.Error("no error event emitted")
	}

	// Next poll retries the base config, not the whole ladder.
	e.pollOnce(context.Background())
	snap = e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
	if snap.Status != model.StatusBaseApplied {
		t.Errorf("after retry status = %q, want base_applied", snap.Status)
	}
	if !snap.BaseConfigApplied {
		t.Error("base_config_applied not set after retry")
	}
}

func TestNoDuplicateDiscoveredEventAcrossStopStart(t *testing.T) {
	sess := seedSession()
	log := &eventLog{}
	e := engineWith(testConfig(), map[string]*fakeSession{"10.0.0.2": sess}, log)

	drive(t, e, 10, func() bool {
		sw := e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
		return sw != nil && sw.Configured
	})
	before := log.count(model.EventDeviceDiscovered)

	// Simulate stop/start with the same config: known MACs must not be
	// re-announced.
	if err := e.UpdateConfiguration(e.Config()); err != nil {
		t.Fatalf("UpdateConfiguration: %v", err)
	}
	for i := 0; i < 3; i++ {
		e.pollOnce(context.Background())
	}

	if after := log.count(model.EventDeviceDiscovered); after != before {
		t.Errorf("device_discovered count grew from %d to %d across restart", before, after)
	}
}

func TestUpdateConfigurationRejectsInvalidAndKeepsOld(t *testing.T) {
	log := &eventLog{}
	e := engineWith(testConfig(), nil, log)

	bad := testConfig()
	bad.ManagementVLAN = 4095
	if err := e.UpdateConfiguration(bad); err == nil {
		t.Fatal("invalid config accepted")
	}
	if got := e.Config().ManagementVLAN; got != 10 {
		t.Errorf("management VLAN = %d, previous config not preserved", got)
	}
}

func TestStartRefusesEmptyInventory(t *testing.T) {
	cfg := DefaultConfig()
	log := &eventLog{}
	e := NewEngine(cfg, func(string, model.CredentialSet) Session {
		return &fakeSession{}
	}, log.emit)

	if err := e.Start(); err == nil {
		t.Fatal("Start succeeded with empty inventory")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	sess := seedSession()
	log := &eventLog{}
	cfg := testConfig()
	cfg.PollIntervalSec = 3600 // park the loop after the first iteration
	e := engineWith(cfg, map[string]*fakeSession{"10.0.0.2": sess}, log)

	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !e.Running() {
		t.Fatal("engine not running after Start")
	}

	e.Stop()
	if e.Running() {
		t.Fatal("engine still running after Stop")
	}
	if log.count(model.EventZTPStarted) != 1 || log.count(model.EventZTPStopped) != 1 {
		t.Errorf("lifecycle events = %v", log.kinds())
	}
	if log.count(model.EventInventoryUpdate) == 0 {
		t.Error("no inventory_update emitted during run")
	}
}

func TestUnreachableSwitchParksInErrorAndEngineContinues(t *testing.T) {
	cfg := testConfig()
	cfg.SeedSwitches = []string{"10.0.0.2", "10.0.0.99"}
	sess := seedSession()
	log := &eventLog{}
	e := engineWith(cfg, map[string]*fakeSession{"10.0.0.2": sess}, log)

	drive(t, e, 10, func() bool {
		sw := e.InventorySnapshot().Switches["cc:4e:24:38:7a:80"]
		return sw != nil && sw.Configured
	})

	dead := e.InventorySnapshot().Switches["seed:10.0.0.99"]
	if dead == nil {
		t.Fatal("unreachable seed vanished from inventory")
	}
	if dead.Status != model.StatusError {
		t.Errorf("unreachable seed status = %q, want error", dead.Status)
	}
	if !dead.IsSeed {
		t.Error("seed flag dropped")
	}
}
