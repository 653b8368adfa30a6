package controller

import (
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// DeviceRecord is one device in an agent's read-only shadow inventory,
// rebuilt from ztp_event frames. The agent owns the truth; this is the
// controller's view of it.
type DeviceRecord struct {
	MAC               string                    `json:"mac_address"`
	IP                string                    `json:"ip_address,omitempty"`
	DeviceType        string                    `json:"device_type"`
	Model             string                    `json:"model,omitempty"`
	Hostname          string                    `json:"hostname,omitempty"`
	Serial            string                    `json:"serial,omitempty"`
	Status            string                    `json:"status"`
	Configured        bool                      `json:"configured"`
	BaseConfigApplied bool                      `json:"base_config_applied,omitempty"`
	IsSeed            bool                      `json:"is_seed,omitempty"`
	ConnectedSwitch   string                    `json:"connected_switch,omitempty"`
	ConnectedPort     string                    `json:"connected_port,omitempty"`
	Neighbors         map[string]model.Neighbor `json:"neighbors,omitempty"`
	LastSeen          time.Time                 `json:"last_seen"`

	ConfigurationApplied []string `json:"configuration_applied,omitempty"`

	// AgentID and AgentHostname are stamped when merging fleet-wide views.
	AgentID       string `json:"agent_id,omitempty"`
	AgentHostname string `json:"agent_hostname,omitempty"`
}

// applyDeviceEvent folds a device_discovered / device_configured event into
// the shadow.
func applyDeviceEvent(shadow map[string]*DeviceRecord, kind model.EventKind, data map[string]interface{}, now time.Time) {
	mac, _ := data["mac_address"].(string)
	if mac == "" {
		return
	}
	rec, ok := shadow[mac]
	if !ok {
		rec = &DeviceRecord{MAC: mac}
		shadow[mac] = rec
	}

	if v, ok := data["ip_address"].(string); ok && v != "" {
		rec.IP = v
	}
	if v, ok := data["device_type"].(string); ok && v != "" {
		rec.DeviceType = v
	}
	if v, ok := data["model"].(string); ok && v != "" {
		rec.Model = v
	}
	if v, ok := data["hostname"].(string); ok && v != "" {
		rec.Hostname = v
	}
	if v, ok := data["serial"].(string); ok && v != "" {
		rec.Serial = v
	}
	if v, ok := data["is_seed"].(bool); ok {
		rec.IsSeed = v
	}
	rec.LastSeen = now

	if kind == model.EventDeviceConfigured {
		rec.Status = "configured"
		rec.Configured = true
		if applied, ok := data["configuration_applied"].([]interface{}); ok {
			rec.ConfigurationApplied = rec.ConfigurationApplied[:0]
			for _, a := range applied {
				if s, ok := a.(string); ok {
					rec.ConfigurationApplied = append(rec.ConfigurationApplied, s)
				}
			}
		}
	} else {
		rec.Status = "discovered"
	}
}

// applyInventoryUpdate replaces the whole shadow from an inventory_update
// payload: {"switches": {mac: {...}}, "aps": {mac: {...}}}.
func applyInventoryUpdate(data map[string]interface{}, now time.Time) map[string]*DeviceRecord {
	shadow := make(map[string]*DeviceRecord)

	if switches, ok := data["switches"].(map[string]interface{}); ok {
		for mac, raw := range switches {
			fields, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			rec := &DeviceRecord{MAC: mac, DeviceType: "switch", LastSeen: now}
			if v, ok := fields["ip_address"].(string); ok {
				rec.IP = v
			}
			if v, ok := fields["model"].(string); ok {
				rec.Model = v
			}
			if v, ok := fields["hostname"].(string); ok {
				rec.Hostname = v
			}
			if v, ok := fields["serial"].(string); ok {
				rec.Serial = v
			}
			if v, ok := fields["status"].(string); ok {
				rec.Status = v
			} else {
				rec.Status = "discovered"
			}
			if v, ok := fields["configured"].(bool); ok {
				rec.Configured = v
			}
			if v, ok := fields["base_config_applied"].(bool); ok {
				rec.BaseConfigApplied = v
			}
			if v, ok := fields["is_seed"].(bool); ok {
				rec.IsSeed = v
			}
			shadow[mac] = rec
		}
	}

	if aps, ok := data["aps"].(map[string]interface{}); ok {
		for mac, raw := range aps {
			fields, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			rec := &DeviceRecord{MAC: mac, DeviceType: "ap", LastSeen: now}
			if v, ok := fields["ip_address"].(string); ok {
				rec.IP = v
			}
			if v, ok := fields["hostname"].(string); ok {
				rec.Hostname = v
			}
			if v, ok := fields["status"].(string); ok {
				rec.Status = v
			} else {
				rec.Status = "discovered"
			}
			if v, ok := fields["configured"].(bool); ok {
				rec.Configured = v
			}
			if v, ok := fields["connected_switch"].(string); ok {
				rec.ConnectedSwitch = v
			}
			if v, ok := fields["connected_port"].(string); ok {
				rec.ConnectedPort = v
			}
			shadow[mac] = rec
		}
	}

	return shadow
}
