package device

import (
	"regexp"
	"strings"

	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// FastIron output patterns. The dialect is ICX only; there is no vendor
// abstraction layer to feed.
var (
	modelRe      = regexp.MustCompile(`HW: Stackable\s+(ICX\d+[A-Za-z0-9-]+(?:-POE)?)`)
	serialRe     = regexp.MustCompile(`Serial\s+#:([A-Za-z0-9]+)`)
	chassisMACRe = regexp.MustCompile(`Management MAC:\s*([0-9a-fA-F.:-]+)`)

	lldpPortRe   = regexp.MustCompile(`Local port: (\S+)`)
	lldpSysRe    = regexp.MustCompile(`System name\s+: "([^"]+)"`)
	lldpDescRe   = regexp.MustCompile(`Port description\s+: "([^"]+)"`)
	lldpChasRe   = regexp.MustCompile(`Chassis ID \(MAC address\): ([0-9a-fA-F.:-]+)`)
	lldpMgmtIPRe = regexp.MustCompile(`Management address \(IPv4\): (\S+)`)
)

// Identity is what the version probe learns about a switch.
type Identity struct {
	Model  string
	Serial string
	// Hostname is the ZTP naming convention <model>-<serial>, empty if
	// either part is missing.
	Hostname string
}

// ParseVersion extracts model and serial from `show version` output.
func ParseVersion(output string) Identity {
	var id Identity
	if m := modelRe.FindStringSubmatch(output); m != nil {
		id.Model = m[1]
	}
	if m := serialRe.FindStringSubmatch(output); m != nil {
		id.Serial = m[1]
	}
	if id.Model != "" && id.Serial != "" {
		id.Hostname = id.Model + "-" + id.Serial
	}
	return id
}

// ParseChassisMAC extracts the management MAC from `show chassis` output,
// normalised to colon form. Empty if not present.
func ParseChassisMAC(output string) string {
	m := chassisMACRe.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	mac := util.NormalizeMAC(m[1])
	if !strings.Contains(mac, ":") {
		return ""
	}
	return mac
}

// LLDPNeighbor is one raw neighbor entry from `show lldp neighbors detail`.
// Classification into switch/AP/unknown happens in the ZTP engine.
type LLDPNeighbor struct {
	LocalPort       string
	SystemName      string
	PortDescription string
	ChassisMAC      string
	ManagementIP    string
}

// ParseLLDPNeighbors segments detail output on `Local port:` markers and
// pulls the per-port fields out of each segment.
func ParseLLDPNeighbors(output string) []LLDPNeighbor {
	locs := lldpPortRe.FindAllStringSubmatchIndex(output, -1)
	if len(locs) == 0 {
		return nil
	}

	neighbors := make([]LLDPNeighbor, 0, len(locs))
	for i, loc := range locs {
		end := len(output)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := output[loc[0]:end]

		n := LLDPNeighbor{LocalPort: output[loc[2]:loc[3]]}
		if m := lldpSysRe.FindStringSubmatch(segment); m != nil {
			n.SystemName = m[1]
		}
		if m := lldpDescRe.FindStringSubmatch(segment); m != nil {
			n.PortDescription = m[1]
		}
		if m := lldpChasRe.FindStringSubmatch(segment); m != nil {
			n.ChassisMAC = util.NormalizeMAC(m[1])
		}
		if m := lldpMgmtIPRe.FindStringSubmatch(segment); m != nil {
			n.ManagementIP = m[1]
		}
		neighbors = append(neighbors, n)
	}
	return neighbors
}

// hasPrompt reports whether a user or privileged prompt appears in the output.
// Used during connection recovery, where any prompt anywhere is enough.
func hasPrompt(output string) bool {
	return strings.ContainsAny(output, ">#")
}

// endsWithPrompt reports whether the drained output currently terminates at a
// CLI prompt: `>` in user mode, `#` privileged, either possibly
// hostname-prefixed and followed by trailing whitespace.
func endsWithPrompt(output string) bool {
	trimmed := strings.TrimRight(output, " \t\r\n")
	if trimmed == "" {
		return false
	}
	c := trimmed[len(trimmed)-1]
	return c == '>' || c == '#'
}

// responseSuspect reports whether a config-line response looks like a CLI
// rejection. FastIron reports failures with "Error" or "Invalid input".
func responseSuspect(response string) bool {
	lower := strings.ToLower(response)
	return strings.Contains(lower, "error") || strings.Contains(lower, "invalid")
}

// saveConfirmed reports whether `write memory` output confirms the flash write.
func saveConfirmed(response string) bool {
	lower := strings.ToLower(response)
	return strings.Contains(lower, "done") || strings.Contains(lower, "written to flash")
}
