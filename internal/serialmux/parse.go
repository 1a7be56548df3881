package serialmux

import "strings"

// ReplyKind classifies a line printed by the actuator firmware.
type ReplyKind string

const (
	ReplyAck      ReplyKind = "ack"      // "OK ..." after an accepted command
	ReplyError    ReplyKind = "error"    // "ERR ..." after a rejected command
	ReplyIdentity ReplyKind = "identity" // "ID ..." in answer to the probe
	ReplyUnknown  ReplyKind = "unknown"
)

// ProbeCommand asks the firmware to identify itself.
const ProbeCommand = "ID?"

// ClassifyReply inspects one line from the device.
func ClassifyReply(line string) ReplyKind {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "OK"):
		return ReplyAck
	case strings.HasPrefix(line, "ERR"):
		return ReplyError
	case strings.HasPrefix(line, "ID "):
		return ReplyIdentity
	}
	return ReplyUnknown
}
