package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

func TestMarshalInjectsType(t *testing.T) {
	data, err := Marshal(Ping{Timestamp: 1722500000000})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "ping", m["type"])
	assert.EqualValues(t, 1722500000000, m["timestamp"])
}

func TestDecodeDispatch(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"register", Register{
			PiID:         "agent-1",
			Capabilities: []string{"ssh", "ztp"},
			NetworkInfo:  NetworkInfo{Hostname: "edge-1", Subnet: "192.168.1.0/24"},
			Version:      "2.0.0",
		}},
		{"status", Status{PiID: "agent-1", Status: "online", Timestamp: 1722500000000}},
		{"command_result", CommandResult{RequestID: "req-1", Success: true, Output: "ok", ExecutionTimeMS: 42}},
		{"ssh_command", SSHCommand{RequestID: "req-2", TargetIP: "10.0.0.2", Username: "super", Password: "pw", Command: "show version", Timeout: 30}},
		{"ztp_stop", ZTPStop{RequestID: "req-3"}},
		{"get_inventory", GetInventory{RequestID: "req-4"}},
		{"pong", Pong{Timestamp: 5, PiID: "agent-1"}},
	}

	for _, tt := range tests {
		data, err := Marshal(tt.frame)
		require.NoError(t, err, tt.name)

		decoded, err := Decode(data)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.frame, decoded, tt.name)
	}
}

func TestDecodeZTPConfigAlias(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"ztp_config","config":{"management_vlan":10}}`))
	require.NoError(t, err)
	uc, ok := decoded.(UpdateConfig)
	require.True(t, ok)
	assert.Equal(t, 10, uc.Config.ManagementVLAN)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrProtocol))
	assert.Contains(t, err.Error(), "teleport")
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"request_id":"abc"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrProtocol))
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrProtocol))
}

func TestInventoryResponseRoundTrip(t *testing.T) {
	inv := model.NewInventory()
	inv.Switches["cc:4e:24:38:7a:80"] = &model.Switch{
		MAC:               "cc:4e:24:38:7a:80",
		IP:                "10.0.0.2",
		Model:             "ICX7250-48P",
		Serial:            "ABC123",
		Hostname:          "ICX7250-48P-ABC123",
		Status:            model.StatusConfigured,
		BaseConfigApplied: true,
		Configured:        true,
		IsSeed:            true,
		Neighbors: map[string]model.Neighbor{
			"1/1/2": {Kind: model.NeighborAP, SystemName: "RUCKUS-AP-001"},
		},
	}
	inv.APs["94:b3:4f:11:22:33"] = &model.AccessPoint{
		MAC:                "94:b3:4f:11:22:33",
		ConnectedSwitchMAC: "cc:4e:24:38:7a:80",
		ConnectedPort:      "1/1/2",
		Status:             "configured",
		Configured:         true,
	}
	inv.Edges = []model.TopologyEdge{{
		LocalSwitchMAC: "cc:4e:24:38:7a:80",
		LocalPort:      "1/1/2",
		RemoteKind:     model.NeighborAP,
		RemoteMAC:      "94:b3:4f:11:22:33",
	}}

	data, err := Marshal(InventoryResponse{RequestID: "req-9", Inventory: inv})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	resp, ok := decoded.(InventoryResponse)
	require.True(t, ok)
	assert.Equal(t, "req-9", resp.RequestID)
	require.NotNil(t, resp.Inventory)
	assert.Equal(t, inv.Switches, resp.Inventory.Switches)
	assert.Equal(t, inv.APs, resp.Inventory.APs)
	assert.Equal(t, inv.Edges, resp.Inventory.Edges)
}

func TestCredentialsNeverSerialised(t *testing.T) {
	inv := model.NewInventory()
	inv.Switches["m1"] = &model.Switch{
		MAC: "m1",
		Credentials: model.CredentialSet{
			Username:        "super",
			DefaultPassword: "sp-admin",
		},
	}

	data, err := Marshal(InventoryResponse{RequestID: "r", Inventory: inv})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sp-admin")
	assert.NotContains(t, string(data), `"super"`)
}

func TestUpdateConfigCarriesZTPConfig(t *testing.T) {
	raw := `{
		"type": "update_config",
		"request_id": "req-7",
		"config": {
			"credentials": [{"username": "super", "password": "sp-admin", "preferred_password": "newpw!"}],
			"seed_switches": ["10.0.0.2"],
			"management_vlan": 10,
			"wireless_vlans": [20, 30, 40],
			"ip_pool": "10.0.0.0/24",
			"gateway": "10.0.0.1",
			"base_config": "vlan 10 name Management"
		}
	}`

	decoded, err := Decode([]byte(raw))
	require.NoError(t, err)

	uc, ok := decoded.(UpdateConfig)
	require.True(t, ok)
	assert.Equal(t, "req-7", uc.RequestID)
	assert.Equal(t, []string{"10.0.0.2"}, uc.Config.SeedSwitches)
	assert.Equal(t, 10, uc.Config.ManagementVLAN)
	require.Len(t, uc.Config.Credentials, 1)
	assert.Equal(t, "newpw!", uc.Config.Credentials[0].PreferredPassword)
	require.NoError(t, uc.Config.Validate())
}
