package model

import "fmt"

// VLANKind classifies a VLAN's role in the plan.
type VLANKind string

const (
	VLANManagement VLANKind = "management"
	VLANWireless   VLANKind = "wireless"
	VLANOther      VLANKind = "other"
)

// VLAN represents a layer-2 segment in the VLAN plan.
type VLAN struct {
	ID          int      `json:"id"` // 1-4094
	Name        string   `json:"name"`
	Kind        VLANKind `json:"type"`
	Description string   `json:"description,omitempty"`
}

// Validate checks the VLAN id range and kind.
func (v *VLAN) Validate() error {
	if v.ID < 1 || v.ID > 4094 {
		return fmt.Errorf("VLAN id %d out of range [1,4094]", v.ID)
	}
	switch v.Kind {
	case VLANManagement, VLANWireless, VLANOther:
		return nil
	default:
		return fmt.Errorf("VLAN %d: unknown type %q", v.ID, v.Kind)
	}
}

// NormalizeVLANKind maps free-form CSV type strings onto the known kinds.
// Unrecognised values become VLANOther.
func NormalizeVLANKind(s string) VLANKind {
	switch s {
	case "management", "mgmt", "Management":
		return VLANManagement
	case "wireless", "Wireless", "wifi":
		return VLANWireless
	default:
		return VLANOther
	}
}
