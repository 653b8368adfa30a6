package ztp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// Engine owns the local inventory and drives each switch to configured
// exactly once, then idles. One poll iteration advances each non-terminal
// switch by at most one state transition, so a stuck device never starves
// the rest of the fleet.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	inv    *model.Inventory
	dialer Dialer
	emit   Emitter

	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastUpdate time.Time

	// announced guards device_discovered against duplication across
	// stop/start cycles for MACs the fleet already knows.
	announced map[string]bool
	// resume maps a failed switch back to the durable state it retries from.
	resume map[string]model.SwitchStatus
	// saveSeen records that at least one flash write was confirmed.
	saveSeen map[string]bool
}

// NewEngine creates an engine with the given configuration. Seeds from the
// configuration are placed into the inventory immediately.
func NewEngine(cfg Config, dialer Dialer, emit Emitter) *Engine {
	if dialer == nil {
		dialer = DeviceDialer
	}
	e := &Engine{
		cfg:       cfg,
		inv:       model.NewInventory(),
		dialer:    dialer,
		emit:      emit,
		announced: make(map[string]bool),
		resume:    make(map[string]model.SwitchStatus),
		saveSeen:  make(map[string]bool),
	}
	e.mu.Lock()
	e.mergeSeedsLocked()
	e.mu.Unlock()
	return e
}

// seedKey is the inventory key for a seed whose MAC is not yet known. The
// record is re-keyed to the real MAC after the first successful connect.
func seedKey(ip string) string { return "seed:" + ip }

// mergeSeedsLocked adds configured seeds missing from the inventory.
func (e *Engine) mergeSeedsLocked() {
	creds := e.cfg.PrimaryCredentials()
	for _, ip := range e.cfg.SeedSwitches {
		if e.inv.SwitchByIP(ip) != nil {
			continue
		}
		key := seedKey(ip)
		if _, ok := e.inv.Switches[key]; ok {
			continue
		}
		e.inv.Switches[key] = &model.Switch{
			IP:          ip,
			Status:      model.StatusNew,
			IsSeed:      true,
			Credentials: creds,
		}
		util.WithSwitch(ip).Info("Seed switch added to inventory")
	}
}

// UpdateConfiguration atomically replaces the active configuration. An
// invalid push returns an error and leaves the previous configuration in
// force. A running poll observes the new values on its next iteration.
func (e *Engine) UpdateConfiguration(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.mergeSeedsLocked()
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Running reports whether the poll loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns the heartbeat snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:            e.running,
		Switches:           len(e.inv.Switches),
		APs:                len(e.inv.APs),
		ConfiguredSwitches: e.inv.ConfiguredCount(),
		LastUpdate:         e.lastUpdate.UTC().Format(time.RFC3339),
	}
}

// InventorySnapshot returns a deep copy for serialisation.
func (e *Engine) InventorySnapshot() *model.Inventory {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inv.Snapshot()
}

// Start launches the poll loop. It refuses to start with an empty inventory,
// matching the behaviour operators rely on to catch missing seed pushes.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if len(e.inv.Switches) == 0 {
		e.mu.Unlock()
		return util.NewConfigError("ztp", "seed_switches", "no switches in inventory")
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.emitEvent(model.EventZTPStarted, nil)
	util.Logger.Info("ZTP engine started")
	go e.run(ctx, done)
	return nil
}

// Stop cancels the poll loop at the next iteration boundary and waits for the
// current step to finish. In-flight device commands are never interrupted
// mid-stream; the shell would be left in an unknown state.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.emitEvent(model.EventZTPStopped, nil)
		util.Logger.Info("ZTP engine stopped")
		close(done)
	}()

	for {
		e.pollOnce(ctx)
		e.EmitInventoryUpdate()

		e.mu.Lock()
		allDone := e.inv.AllConfigured()
		interval := e.cfg.PollInterval()
		e.mu.Unlock()

		if allDone {
			util.Logger.Info("All switches configured, ZTP complete")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// pollOnce walks the inventory in stable order, advancing each non-terminal
// switch at most one transition. Cancellation is honoured between switches.
func (e *Engine) pollOnce(ctx context.Context) {
	e.mu.Lock()
	keys := e.inv.SwitchMACs()
	e.mu.Unlock()

	for _, key := range keys {
		if ctx.Err() != nil {
			return
		}
		e.advance(key)
	}
	e.mu.Lock()
	e.lastUpdate = time.Now()
	e.mu.Unlock()
}

// advance performs one state transition for the keyed switch.
func (e *Engine) advance(key string) {
	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok || sw.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	st := sw.Status
	if st == model.StatusError {
		st = e.resume[key]
		if st == "" {
			st = model.StatusConnecting
		}
	}
	ip := sw.IP
	creds := sw.Credentials
	cfg := e.cfg
	e.mu.Unlock()

	if st == model.StatusNew {
		e.setStatus(key, model.StatusConnecting)
		return
	}

	if ip == "" {
		e.fail(key, "no reachable IP yet")
		return
	}

	sess := e.dialer(ip, creds)
	if err := sess.Connect(); err != nil {
		e.fail(key, err.Error())
		return
	}
	defer sess.Close()

	var err error
	switch st {
	case model.StatusConnecting:
		err = e.completeConnect(key, sess)
	case model.StatusConnected:
		err = e.applyBaseConfig(key, sess, cfg)
	case model.StatusBaseApplied:
		err = e.applyHostConfig(key, sess, cfg)
	case model.StatusHostConfigured:
		err = e.discoverNeighbors(key, sess, cfg)
	case model.StatusDiscovered:
		err = e.configurePorts(key, sess, cfg)
	case model.StatusPortConfigured:
		err = e.finalSave(key, sess)
	}
	if err != nil {
		e.fail(key, err.Error())
	}
}

// completeConnect records identity, re-keys the record to the learned MAC,
// promotes the working password, and announces the device.
func (e *Engine) completeConnect(key string, sess Session) error {
	id := sess.Identity()
	mac := sess.ChassisMAC()
	active := sess.ActivePassword()

	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}

	if mac != "" && mac != key {
		if existing, dup := e.inv.Switches[mac]; dup {
			// The same physical switch is already known under its MAC
			// (it was discovered over LLDP while still keyed as a seed).
			existing.IsSeed = existing.IsSeed || sw.IsSeed
			existing.IP = sw.IP
			delete(e.inv.Switches, key)
			sw = existing
		} else {
			delete(e.inv.Switches, key)
			e.inv.Switches[mac] = sw
		}
		e.migrateKeyLocked(key, mac)
		key = mac
	}

	sw.MAC = mac
	sw.Model = id.Model
	sw.Serial = id.Serial
	if sw.Hostname == "" {
		sw.Hostname = id.Hostname
	}
	if active != "" && active != sw.Credentials.PreferredPassword {
		sw.Credentials.PreferredPassword = active
	}
	sw.Status = model.StatusConnected
	sw.StatusReason = ""
	delete(e.resume, key)

	first := !e.announced[key]
	e.announced[key] = true
	payload := map[string]interface{}{
		"mac_address": sw.MAC,
		"ip_address":  sw.IP,
		"device_type": "switch",
		"model":       sw.Model,
		"serial":      sw.Serial,
		"hostname":    sw.Hostname,
		"is_seed":     sw.IsSeed,
	}
	e.mu.Unlock()

	if first {
		e.emitEvent(model.EventDeviceDiscovered, payload)
	}
	util.WithSwitch(sw.IP).Infof("Connected: %s serial %s", id.Model, id.Serial)
	return nil
}

// migrateKeyLocked moves per-key engine bookkeeping to the new MAC key.
func (e *Engine) migrateKeyLocked(old, mac string) {
	if e.announced[old] {
		delete(e.announced, old)
		e.announced[mac] = true
	}
	if st, ok := e.resume[old]; ok {
		delete(e.resume, old)
		e.resume[mac] = st
	}
	if e.saveSeen[old] {
		delete(e.saveSeen, old)
		e.saveSeen[mac] = true
	}
}

// applyBaseConfig pushes the base template. The template is idempotent, so
// re-entry after a partial failure is safe.
func (e *Engine) applyBaseConfig(key string, sess Session, cfg Config) error {
	result, err := sess.ApplyBlock(cfg.BaseConfigLines())
	if err != nil {
		return err
	}
	if n := result.SuspectCount(); n > 0 {
		util.Logger.Warnf("Base configuration drew %d suspect responses", n)
	}

	e.mu.Lock()
	if sw, ok := e.inv.Switches[key]; ok {
		sw.BaseConfigApplied = true
		sw.Status = model.StatusBaseApplied
		sw.StatusReason = ""
	}
	if result.SaveConfirmed {
		e.saveSeen[key] = true
	}
	e.mu.Unlock()
	return nil
}

// applyHostConfig sets hostname and the management VE address.
func (e *Engine) applyHostConfig(key string, sess Session, cfg Config) error {
	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	hostname := sw.Hostname
	ip := sw.IP
	e.mu.Unlock()

	cmds := HostnameCommands(hostname, ip, util.MaskFromPrefix(24), cfg.ManagementVLAN, cfg.Gateway)
	result, err := sess.ApplyBlock(cmds)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if sw, ok := e.inv.Switches[key]; ok {
		sw.Status = model.StatusHostConfigured
		sw.StatusReason = ""
	}
	if result.SaveConfirmed {
		e.saveSeen[key] = true
	}
	e.mu.Unlock()
	return nil
}

// discoverNeighbors fetches LLDP detail, classifies every port, rebuilds
// topology edges, records APs, and enqueues unseen switches.
func (e *Engine) discoverNeighbors(key string, sess Session, cfg Config) error {
	raw, err := sess.FetchLLDPNeighbors()
	if err != nil {
		return err
	}

	neighbors := make(map[string]model.Neighbor, len(raw))
	for _, n := range raw {
		neighbors[n.LocalPort] = Classify(n)
	}

	var newAPs []map[string]interface{}

	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	sw.Neighbors = neighbors
	e.inv.ReplaceEdgesFor(key, edgesFromNeighbors(key, neighbors))

	creds := cfg.PrimaryCredentials()
	for port, n := range neighbors {
		switch n.Kind {
		case model.NeighborSwitch:
			e.enqueueSwitchLocked(n, creds)
		case model.NeighborAP:
			if payload := e.recordAPLocked(sw, port, n); payload != nil {
				newAPs = append(newAPs, payload)
			}
		}
	}

	sw.Status = model.StatusDiscovered
	sw.StatusReason = ""
	e.mu.Unlock()

	for _, payload := range newAPs {
		e.emitEvent(model.EventDeviceDiscovered, payload)
	}
	util.WithSwitch(sw.IP).Infof("Discovered %d neighbors", len(neighbors))
	return nil
}

// enqueueSwitchLocked adds a switch-classified neighbor the inventory has
// never seen. Seeds are never re-enqueued; known MACs are left alone.
func (e *Engine) enqueueSwitchLocked(n model.Neighbor, creds model.CredentialSet) {
	if n.MAC == "" {
		return
	}
	if _, ok := e.inv.Switches[n.MAC]; ok {
		return
	}
	if n.ManagementIP != "" {
		if existing := e.inv.SwitchByIP(n.ManagementIP); existing != nil {
			// Already tracked (typically a seed still keyed by placeholder).
			return
		}
	}
	e.inv.Switches[n.MAC] = &model.Switch{
		MAC:         n.MAC,
		IP:          n.ManagementIP,
		Hostname:    n.SystemName,
		Status:      model.StatusNew,
		Credentials: creds,
	}
	util.Logger.Infof("Enqueued discovered switch %s (%s)", n.SystemName, n.MAC)
}

// recordAPLocked creates or moves an AP record. If the AP moved ports, the
// most recent edge wins. Returns a device_discovered payload for new APs.
func (e *Engine) recordAPLocked(sw *model.Switch, port string, n model.Neighbor) map[string]interface{} {
	mac := n.MAC
	if mac == "" {
		// Some APs suppress chassis TLVs; key them by attachment point.
		mac = "ap:" + sw.MAC + ":" + port
	}
	ap, existed := e.inv.APs[mac]
	if !existed {
		ap = &model.AccessPoint{
			MAC:      mac,
			Hostname: n.SystemName,
			Status:   "discovered",
		}
		e.inv.APs[mac] = ap
	}
	ap.ConnectedSwitchMAC = sw.MAC
	ap.ConnectedPort = port
	if n.ManagementIP != "" {
		ap.IP = n.ManagementIP
	}

	if existed || e.announced[mac] {
		return nil
	}
	e.announced[mac] = true
	return map[string]interface{}{
		"mac_address":      mac,
		"device_type":      "ap",
		"hostname":         n.SystemName,
		"connected_switch": sw.MAC,
		"connected_port":   port,
	}
}

// configurePorts applies the per-kind interface blocks for every classified
// neighbor port. Unknown ports are skipped.
func (e *Engine) configurePorts(key string, sess Session, cfg Config) error {
	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	neighbors := make(map[string]model.Neighbor, len(sw.Neighbors))
	for port, n := range sw.Neighbors {
		neighbors[port] = n
	}
	e.mu.Unlock()

	saveConfirmed := false
	for port, n := range neighbors {
		cmds := PortCommands(n.Kind, port, cfg.ManagementVLAN, cfg.WirelessVLANs)
		if cmds == nil {
			continue
		}
		result, err := sess.ApplyBlock(cmds)
		if err != nil {
			return fmt.Errorf("configuring port %s: %w", port, err)
		}
		if result.SaveConfirmed {
			saveConfirmed = true
		}
	}

	e.mu.Lock()
	if sw, ok := e.inv.Switches[key]; ok {
		sw.Status = model.StatusPortConfigured
		sw.StatusReason = ""
		for port, n := range neighbors {
			if n.Kind != model.NeighborAP {
				continue
			}
			for _, ap := range e.inv.APs {
				if ap.ConnectedSwitchMAC == sw.MAC && ap.ConnectedPort == port {
					ap.Configured = true
					ap.Status = "configured"
				}
			}
		}
	}
	if saveConfirmed {
		e.saveSeen[key] = true
	}
	e.mu.Unlock()
	return nil
}

// finalSave writes the configuration to flash and marks the switch terminal.
func (e *Engine) finalSave(key string, sess Session) error {
	err := sess.WriteMemory()

	e.mu.Lock()
	confirmed := err == nil || e.saveSeen[key]
	if err == nil {
		e.saveSeen[key] = true
	}
	e.mu.Unlock()

	if !confirmed {
		return fmt.Errorf("no confirmed flash write for %s: %w", key, err)
	}

	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	sw.Status = model.StatusConfigured
	sw.Configured = true
	sw.StatusReason = ""
	delete(e.resume, key)
	payload := map[string]interface{}{
		"mac_address": sw.MAC,
		"ip_address":  sw.IP,
		"device_type": "switch",
		"hostname":    sw.Hostname,
		"configuration_applied": []string{
			"base", "hostname", "mgmt", "ports", "save",
		},
	}
	e.mu.Unlock()

	e.emitEvent(model.EventDeviceConfigured, payload)
	util.WithSwitch(key).Info("Switch fully configured")
	return nil
}

// setStatus records a non-failure transition.
func (e *Engine) setStatus(key string, st model.SwitchStatus) {
	e.mu.Lock()
	if sw, ok := e.inv.Switches[key]; ok {
		sw.Status = st
		sw.StatusReason = ""
	}
	e.mu.Unlock()
}

// fail parks the switch in the error state, remembering where to resume.
// The engine itself keeps running; the next poll retries.
func (e *Engine) fail(key, reason string) {
	e.mu.Lock()
	sw, ok := e.inv.Switches[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	if sw.Status != model.StatusError {
		e.resume[key] = sw.Status
	}
	sw.Status = model.StatusError
	sw.StatusReason = reason
	payload := map[string]interface{}{
		"mac_address": sw.MAC,
		"ip_address":  sw.IP,
		"state":       string(e.resume[key]),
		"error":       reason,
	}
	e.mu.Unlock()

	e.emitEvent(model.EventError, payload)
	util.WithSwitch(key).Warnf("Provisioning step failed: %s", reason)
}

// EmitInventoryUpdate publishes the full inventory snapshot. Called once per
// poll iteration and after every reconnect so the controller's shadow never
// drifts for long.
func (e *Engine) EmitInventoryUpdate() {
	snap := e.InventorySnapshot()
	e.emitEvent(model.EventInventoryUpdate, map[string]interface{}{
		"switches": snap.Switches,
		"aps":      snap.APs,
		"edges":    snap.Edges,
	})
}
