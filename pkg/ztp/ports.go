package ztp

import (
	"fmt"

	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// SwitchPortCommands builds the interface block for a switch-to-switch trunk:
// every VLAN tagged, rapid-STP edge.
func SwitchPortCommands(port string) []string {
	return []string{
		fmt.Sprintf("interface ethernet %s", port),
		"vlan-config add all-tagged",
		"spanning-tree 802-1w admin-edge-port",
		"exit",
	}
}

// APPortCommands builds the interface block for a switch-to-AP port:
// management VLAN untagged, each wireless VLAN tagged, rapid-STP edge.
func APPortCommands(port string, mgmtVLAN int, wirelessVLANs []int) []string {
	cmds := []string{
		fmt.Sprintf("interface ethernet %s", port),
		fmt.Sprintf("vlan-config add untagged-vlan %d", mgmtVLAN),
	}
	for _, v := range wirelessVLANs {
		cmds = append(cmds, fmt.Sprintf("vlan-config add tagged-vlan %d", v))
	}
	cmds = append(cmds,
		"spanning-tree 802-1w admin-edge-port",
		"exit",
	)
	return cmds
}

// PortCommands picks the block for a classified neighbor. Unknown neighbors
// get no configuration.
func PortCommands(kind model.NeighborKind, port string, mgmtVLAN int, wirelessVLANs []int) []string {
	switch kind {
	case model.NeighborSwitch:
		return SwitchPortCommands(port)
	case model.NeighborAP:
		return APPortCommands(port, mgmtVLAN, wirelessVLANs)
	default:
		return nil
	}
}

// HostnameCommands builds the hostname + management VE block. The management
// address keeps the switch's current IP with a /24 mask and routes through
// the configured gateway.
func HostnameCommands(hostname, ip, mask string, mgmtVLAN int, gateway string) []string {
	cmds := []string{}
	if hostname != "" {
		cmds = append(cmds, fmt.Sprintf("hostname %s", hostname))
	}
	cmds = append(cmds,
		fmt.Sprintf("interface ve %d", mgmtVLAN),
		fmt.Sprintf("ip address %s %s", ip, mask),
		"exit",
	)
	if gateway != "" {
		cmds = append(cmds, fmt.Sprintf("ip route 0.0.0.0 0.0.0.0 %s", gateway))
	}
	return cmds
}
