package ztp

import (
	"strings"

	"github.com/neuralconfig/ruckus-ztp/pkg/device"
	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// Classify maps a raw LLDP neighbor onto the tagged device kinds. ICX
// switches announce a system name with the model prefix; RUCKUS APs carry
// "AP" in their system name or an ap-ish port description. Everything else
// is unknown and its port is left alone.
func Classify(n device.LLDPNeighbor) model.Neighbor {
	kind := model.NeighborUnknown
	switch {
	case strings.HasPrefix(n.SystemName, "ICX"):
		kind = model.NeighborSwitch
	case strings.Contains(n.SystemName, "AP") || strings.Contains(strings.ToLower(n.PortDescription), "ap"):
		kind = model.NeighborAP
	}
	return model.Neighbor{
		Kind:            kind,
		MAC:             n.ChassisMAC,
		SystemName:      n.SystemName,
		PortDescription: n.PortDescription,
		ManagementIP:    n.ManagementIP,
	}
}

// edgesFromNeighbors rebuilds the topology edges originating at one switch.
func edgesFromNeighbors(switchMAC string, neighbors map[string]model.Neighbor) []model.TopologyEdge {
	edges := make([]model.TopologyEdge, 0, len(neighbors))
	for port, n := range neighbors {
		edges = append(edges, model.TopologyEdge{
			LocalSwitchMAC:   switchMAC,
			LocalPort:        port,
			RemoteKind:       n.Kind,
			RemoteMAC:        n.MAC,
			RemoteSystemName: n.SystemName,
		})
	}
	return edges
}
