package device

import "github.com/neuralconfig/ruckus-ztp/pkg/util"

// TraceTag labels a shell-traffic trace line.
type TraceTag string

const (
	TraceSend  TraceTag = "send"
	TraceRecv  TraceTag = "recv"
	TraceInfo  TraceTag = "info"
	TraceError TraceTag = "error"
)

// TraceFunc receives one line of shell traffic or driver activity.
// Tests capture these to assert on the exact command sequence.
type TraceFunc func(line string, tag TraceTag)

// logTrace is the default trace hook: logrus debug lines with the tag as a field.
func logTrace(ip string) TraceFunc {
	return func(line string, tag TraceTag) {
		util.WithSwitch(ip).WithField("trace", string(tag)).Debug(line)
	}
}
