package serialmux

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrNoReply is returned by Probe when the port stays silent.
var ErrNoReply = errors.New("no identity reply")

// Probe sends ProbeCommand and waits up to timeout for an identity line,
// returning the text after "ID ". Reads are bounded by SetReadTimeout so
// a silent port cannot hang discovery.
func Probe(port TimeoutSerialPorter, timeout time.Duration) (string, error) {
	if err := port.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}
	cmd := ProbeCommand + LineEnding
	if n, err := port.Write([]byte(cmd)); err != nil {
		return "", err
	} else if n != len(cmd) {
		return "", ErrWriteFailed
	}

	var sb strings.Builder
	buf := make([]byte, 64)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		sb.Write(buf[:n])
		for _, line := range strings.Split(sb.String(), "\n") {
			if ClassifyReply(line) == ReplyIdentity {
				return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "ID ")), nil
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if n == 0 {
			// timed out with nothing new
			break
		}
	}
	return "", ErrNoReply
}
