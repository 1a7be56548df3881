package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the minimal port surface the mux needs, so tests can
// substitute an in-memory port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is a port whose reads can be bounded, used when
// probing candidate ports.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// PortOpener opens a port by path. OpenPort is the production opener.
type PortOpener func(path string, opts PortOptions) (TimeoutSerialPorter, error)
