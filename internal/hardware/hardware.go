// Package hardware drives the actuators a stimulator fires. Each device
// family is a distinct Interface implementation chosen at startup; the
// Dispatcher decouples them from the frame loop.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/ethotrack/internal/monitoring"
)

var logf = monitoring.Component("hardware")

var (
	// ErrQueueFull is returned by Dispatcher.Send when the worker is behind.
	ErrQueueFull = errors.New("hardware dispatch queue full")
	// ErrNoPort is returned by DiscoverPort when no candidate answers.
	ErrNoPort = errors.New("no actuator found on any serial port")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("hardware interface closed")
)

// Command is one actuation: pulse Channel for Duration.
type Command struct {
	Channel  int
	Duration time.Duration
}

func (c Command) String() string {
	return fmt.Sprintf("channel %d for %v", c.Channel, c.Duration)
}

// Interface is the capability every actuator family provides. Send is
// fire-and-forget from the caller's point of view.
type Interface interface {
	Send(cmd Command) error
	// WarmUp runs the optional startup self-test.
	WarmUp(ctx context.Context) error
	Close() error
}

// Disabled accepts and discards every command.
type Disabled struct{}

var _ Interface = Disabled{}

func (Disabled) Send(Command) error           { return nil }
func (Disabled) WarmUp(context.Context) error { return nil }
func (Disabled) Close() error                 { return nil }

// Recorder keeps every command in memory, for dry runs and tests.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	warmUps  int
	closed   bool
}

var _ Interface = (*Recorder)(nil)

func (r *Recorder) Send(cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *Recorder) WarmUp(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmUps++
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Commands returns a copy of the commands received so far.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// WarmUps counts WarmUp calls.
func (r *Recorder) WarmUps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.warmUps
}
