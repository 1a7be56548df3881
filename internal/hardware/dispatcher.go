package hardware

import (
	"context"
	"sync"
)

// Dispatcher queues commands for a single worker goroutine so the caller
// never waits on the device. Delivery is at most once: when the queue is
// full the command is dropped.
type Dispatcher struct {
	hw    Interface
	queue chan Command

	mu      sync.Mutex
	closed  bool
	sent    int
	failed  int
	dropped int

	done chan struct{}
}

var _ Interface = (*Dispatcher)(nil)

// NewDispatcher starts the worker. queueSize < 1 is treated as 1.
func NewDispatcher(hw Interface, queueSize int) *Dispatcher {
	d := &Dispatcher{
		hw:    hw,
		queue: make(chan Command, max(queueSize, 1)),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for cmd := range d.queue {
		err := d.hw.Send(cmd)
		d.mu.Lock()
		if err != nil {
			d.failed++
		} else {
			d.sent++
		}
		d.mu.Unlock()
		if err != nil {
			logf("dispatch %v failed: %v", cmd, err)
		}
	}
}

// Send enqueues cmd without blocking.
func (d *Dispatcher) Send(cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- cmd:
		return nil
	default:
		d.dropped++
		return ErrQueueFull
	}
}

// WarmUp runs the wrapped interface's self-test synchronously.
func (d *Dispatcher) WarmUp(ctx context.Context) error {
	return d.hw.WarmUp(ctx)
}

// Close drains queued commands, stops the worker and closes the wrapped
// interface. Safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.hw.Close()
}

// DispatchStats counts worker outcomes.
type DispatchStats struct {
	Sent, Failed, Dropped int
}

func (d *Dispatcher) Stats() DispatchStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatchStats{Sent: d.sent, Failed: d.failed, Dropped: d.dropped}
}
