package hardware

import (
	"context"
	"fmt"

	"github.com/banshee-data/ethotrack/internal/config"
	"github.com/banshee-data/ethotrack/internal/serialmux"
	"github.com/banshee-data/ethotrack/internal/timeutil"
)

// AutoPort asks Open to discover the actuator port.
const AutoPort = "auto"

// Config selects and parameterises the actuator link.
type Config struct {
	SerialPort    string // "" for no hardware, AutoPort to discover
	Port          serialmux.PortOptions
	DispatchQueue int
	SleepDepriver SleepDepriverConfig
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		SerialPort:    cfg.GetSerialPort(),
		Port:          serialmux.PortOptionsFromTuning(cfg),
		DispatchQueue: cfg.GetDispatchQueue(),
		SleepDepriver: DefaultSleepDepriverConfig(),
	}
}

// Open connects the configured hardware and wraps it in a Dispatcher.
// The returned mux is the one to Monitor and expose on the admin routes;
// it is a DisabledSerialMux when no serial port is configured.
func Open(ctx context.Context, cfg Config, open serialmux.PortOpener, clock timeutil.Clock) (*Dispatcher, serialmux.SerialMuxInterface, error) {
	if cfg.SerialPort == "" {
		logf("no serial port configured, actuation disabled")
		return NewDispatcher(Disabled{}, cfg.DispatchQueue), serialmux.NewDisabledSerialMux(), nil
	}
	if open == nil {
		open = serialmux.OpenPort
	}

	path := cfg.SerialPort
	if path == AutoPort {
		found, err := DiscoverPort(ctx, open, nil, cfg.Port, DefaultProbeTimeout)
		if err != nil {
			return nil, nil, err
		}
		path = found
	}

	port, err := open(path, cfg.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("open actuator port: %w", err)
	}
	mux := serialmux.NewSerialMux(port)
	sd, err := NewSleepDepriver(mux, cfg.SleepDepriver, clock)
	if err != nil {
		mux.Close()
		return nil, nil, err
	}
	logf("actuator on %s (%v)", path, cfg.Port)
	return NewDispatcher(sd, cfg.DispatchQueue), mux, nil
}
