// Package ztp runs the zero-touch provisioning engine inside an edge agent:
// it owns the local inventory and drives every discovered switch to its
// configured state, expanding the fleet along LLDP edges as it goes.
package ztp

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// DefaultPollInterval is how often the engine walks the inventory.
const DefaultPollInterval = 60 * time.Second

// FallbackBaseConfig is the built-in minimal template used when no base
// configuration file can be found: the management VLAN (10) and the default
// wireless VLANs (20, 30, 40), each with rapid spanning tree.
const FallbackBaseConfig = `! Minimal fallback configuration
vlan 10 name Management
spanning-tree 802-1w
exit

vlan 20 name Wireless-20
spanning-tree 802-1w
exit

vlan 30 name Wireless-30
spanning-tree 802-1w
exit

vlan 40 name Wireless-40
spanning-tree 802-1w
exit`

// Config is the authoritative ZTP configuration, replaced atomically by
// update_config / ztp_start pushes. JSON tags match the wire payload the
// controller sends.
type Config struct {
	Credentials    []model.CredentialSet `json:"credentials"`
	SeedSwitches   []string              `json:"seed_switches"`
	VLANs          []model.VLAN          `json:"vlans,omitempty"`
	ManagementVLAN int                   `json:"management_vlan"`
	WirelessVLANs  []int                 `json:"wireless_vlans"`
	IPPool         string                `json:"ip_pool"`
	Gateway        string                `json:"gateway"`
	BaseConfig     string                `json:"base_config"`
	// PollIntervalSec overrides the default poll cadence when positive.
	PollIntervalSec int `json:"poll_interval,omitempty"`
}

// DefaultConfig mirrors the factory defaults of the original deployment.
func DefaultConfig() Config {
	return Config{
		ManagementVLAN: 10,
		WirelessVLANs:  []int{20, 30, 40},
		IPPool:         "192.168.10.0/24",
		Gateway:        "192.168.10.1",
		BaseConfig:     FallbackBaseConfig,
	}
}

// PollInterval returns the configured cadence or the default.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSec > 0 {
		return time.Duration(c.PollIntervalSec) * time.Second
	}
	return DefaultPollInterval
}

// BaseConfigLines splits the template for ApplyBlock.
func (c *Config) BaseConfigLines() []string {
	return strings.Split(c.BaseConfig, "\n")
}

// Validate checks the configuration before it replaces the active one.
// An invalid push must leave the previous configuration in force.
func (c *Config) Validate() error {
	if c.ManagementVLAN != 0 {
		v := model.VLAN{ID: c.ManagementVLAN, Name: "management", Kind: model.VLANManagement}
		if err := v.Validate(); err != nil {
			return util.NewConfigError("ztp config", "management_vlan", err.Error())
		}
	}
	for _, id := range c.WirelessVLANs {
		v := model.VLAN{ID: id, Name: "wireless", Kind: model.VLANWireless}
		if err := v.Validate(); err != nil {
			return util.NewConfigError("ztp config", "wireless_vlans", err.Error())
		}
	}

	management := 0
	for i := range c.VLANs {
		if err := c.VLANs[i].Validate(); err != nil {
			return util.NewConfigError("ztp config", "vlans", err.Error())
		}
		if c.VLANs[i].Kind == model.VLANManagement {
			management++
		}
	}
	if management > 1 {
		return util.NewConfigError("ztp config", "vlans", "more than one management VLAN")
	}
	if management == 1 {
		for i := range c.VLANs {
			if c.VLANs[i].Kind == model.VLANManagement && c.ManagementVLAN != 0 && c.VLANs[i].ID != c.ManagementVLAN {
				return util.NewConfigError("ztp config", "management_vlan",
					fmt.Sprintf("plan VLAN %d disagrees with management_vlan %d", c.VLANs[i].ID, c.ManagementVLAN))
			}
		}
	}

	if len(c.SeedSwitches) > 0 && len(c.Credentials) == 0 {
		return util.NewConfigError("ztp config", "credentials", "seed switches require a credential set")
	}
	for _, ip := range c.SeedSwitches {
		if !util.ValidIP(ip) {
			return util.NewConfigError("ztp config", "seed_switches", "invalid IP "+ip)
		}
	}
	if c.IPPool != "" {
		if _, _, err := util.ParseIPWithMask(c.IPPool); err != nil {
			return util.NewConfigError("ztp config", "ip_pool", err.Error())
		}
	}
	if c.Gateway != "" && !util.ValidIP(c.Gateway) {
		return util.NewConfigError("ztp config", "gateway", "invalid IP "+c.Gateway)
	}
	return nil
}

// PrimaryCredentials returns the first credential set, the one discovered
// switches are reached with.
func (c *Config) PrimaryCredentials() model.CredentialSet {
	if len(c.Credentials) == 0 {
		return model.CredentialSet{}
	}
	return c.Credentials[0]
}

// LoadBaseConfigTemplate finds and reads the base-config template. Search
// order: the path as given, the path joined to the working directory when it
// is relative, the path with a leading `~/` expanded to the home directory,
// then config/base_configuration.txt under the working directory. Empty files
// are skipped. Falls back to the built-in minimal template when nothing
// readable is found.
func LoadBaseConfigTemplate(path string) string {
	candidates := []string{}
	if path != "" {
		candidates = append(candidates, path)
		if !filepath.IsAbs(path) {
			if cwd, err := os.Getwd(); err == nil {
				candidates = append(candidates, filepath.Join(cwd, path))
			}
		}
		if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, "~/") {
			candidates = append(candidates, filepath.Join(home, path[2:]))
		}
	}
	candidates = append(candidates, filepath.Join("config", "base_configuration.txt"))

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if content := strings.TrimSpace(string(data)); content != "" {
			util.Logger.Infof("Loaded base configuration from %s (%d bytes)", p, len(data))
			return string(data)
		}
		util.Logger.Warnf("Base configuration file %s is empty", p)
	}

	util.Logger.Warn("No base configuration file found, using built-in minimal template")
	return FallbackBaseConfig
}

// LoadVLANCSV parses the VLAN plan CSV with columns id,name,type,description.
// A header row is skipped when present. The plan may declare at most one
// management VLAN.
func LoadVLANCSV(r io.Reader) ([]model.VLAN, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, util.NewConfigError("vlan csv", "", err.Error())
	}

	vlans := make([]model.VLAN, 0, len(records))
	management := 0
	for i, rec := range records {
		if len(rec) < 3 {
			return nil, util.NewConfigError("vlan csv", fmt.Sprintf("row %d", i+1), "need at least id,name,type")
		}
		idField := strings.TrimSpace(rec[0])
		if i == 0 && strings.EqualFold(idField, "id") {
			continue
		}
		id, err := strconv.Atoi(idField)
		if err != nil {
			return nil, util.NewConfigError("vlan csv", fmt.Sprintf("row %d", i+1), "bad id "+idField)
		}
		v := model.VLAN{
			ID:   id,
			Name: strings.TrimSpace(rec[1]),
			Kind: model.NormalizeVLANKind(strings.TrimSpace(rec[2])),
		}
		if len(rec) > 3 {
			v.Description = strings.TrimSpace(rec[3])
		}
		if err := v.Validate(); err != nil {
			return nil, util.NewConfigError("vlan csv", fmt.Sprintf("row %d", i+1), err.Error())
		}
		if v.Kind == model.VLANManagement {
			management++
			if management > 1 {
				return nil, util.NewConfigError("vlan csv", fmt.Sprintf("row %d", i+1), "second management VLAN")
			}
		}
		vlans = append(vlans, v)
	}
	return vlans, nil
}
