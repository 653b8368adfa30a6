package model

// NeighborKind is the classification of an LLDP neighbor.
// New device families become new kinds, not new booleans.
type NeighborKind string

const (
	NeighborSwitch  NeighborKind = "switch"
	NeighborAP      NeighborKind = "ap"
	NeighborUnknown NeighborKind = "unknown"
)

// Neighbor is one parsed LLDP neighbor on a local port.
type Neighbor struct {
	Kind            NeighborKind `json:"kind"`
	MAC             string       `json:"mac_address,omitempty"`
	SystemName      string       `json:"system_name,omitempty"`
	PortDescription string       `json:"port_description,omitempty"`
	ManagementIP    string       `json:"management_ip,omitempty"`
}

// TopologyEdge links a switch port to a neighbor device. Edges are rebuilt
// from LLDP on every discovery cycle, so stale references cannot leak.
type TopologyEdge struct {
	LocalSwitchMAC   string       `json:"local_switch_mac"`
	LocalPort        string       `json:"local_port"`
	RemoteKind       NeighborKind `json:"remote_kind"`
	RemoteMAC        string       `json:"remote_mac,omitempty"`
	RemoteSystemName string       `json:"remote_system_name,omitempty"`
}
