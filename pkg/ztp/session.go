package ztp

import (
	"time"

	"github.com/neuralconfig/ruckus-ztp/pkg/device"
	"github.com/neuralconfig/ruckus-ztp/pkg/model"
)

// Session is the slice of the device driver the engine drives. Tests swap in
// scripted fakes; production uses *device.Driver unchanged.
type Session interface {
	Connect() error
	Identity() device.Identity
	ChassisMAC() string
	ActivePassword() string
	Run(command string, wait, timeout time.Duration) (string, error)
	ApplyBlock(lines []string) (*device.BlockResult, error)
	WriteMemory() error
	FetchLLDPNeighbors() ([]device.LLDPNeighbor, error)
	Close() error
}

// Dialer creates a session for one switch. The engine dials per poll step and
// closes when the step is done, so a dead switch costs one step, not the loop.
type Dialer func(ip string, creds model.CredentialSet) Session

// DeviceDialer is the production dialer over pkg/device.
func DeviceDialer(ip string, creds model.CredentialSet) Session {
	return device.New(ip, creds)
}
