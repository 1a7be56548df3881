package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/serialmux"
)

// DefaultProbeTimeout bounds each candidate port's identity probe.
const DefaultProbeTimeout = 2 * time.Second

// DiscoverPort returns the first candidate port whose device answers the
// identity probe. With no candidates the OS port list is used.
func DiscoverPort(ctx context.Context, open serialmux.PortOpener, candidates []string, opts serialmux.PortOptions, timeout time.Duration) (string, error) {
	if len(candidates) == 0 {
		ports, err := serialmux.ListPorts()
		if err != nil {
			return "", fmt.Errorf("list serial ports: %w", err)
		}
		candidates = ports
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		port, err := open(path, opts)
		if err != nil {
			logf("skip %s: %v", path, err)
			continue
		}
		id, err := serialmux.Probe(port, timeout)
		port.Close()
		if err != nil {
			logf("skip %s: %v", path, err)
			continue
		}
		logf("found actuator %q on %s", id, path)
		return path, nil
	}
	return "", ErrNoPort
}
