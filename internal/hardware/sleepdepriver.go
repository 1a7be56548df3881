package hardware

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/ethotrack/internal/serialmux"
	"github.com/banshee-data/ethotrack/internal/timeutil"
)

// SleepDepriverConfig describes the multi-channel serial actuator.
type SleepDepriverConfig struct {
	Channels    int           // addressable channels, numbered from 1 (default: 10)
	WarmUpPulse time.Duration // pulse length during WarmUp (default: 100ms)
	WarmUpGap   time.Duration // pause between warm-up pulses (default: 200ms)
}

func DefaultSleepDepriverConfig() SleepDepriverConfig {
	return SleepDepriverConfig{Channels: 10, WarmUpPulse: 100 * time.Millisecond, WarmUpGap: 200 * time.Millisecond}
}

// SleepDepriver speaks the line protocol "P <channel> <duration_ms>" over
// a serial mux. The firmware answers "OK ..." or "ERR ..." lines, which
// are logged by WatchReplies.
type SleepDepriver struct {
	mux   serialmux.SerialMuxInterface
	cfg   SleepDepriverConfig
	clock timeutil.Clock
}

var _ Interface = (*SleepDepriver)(nil)

func NewSleepDepriver(mux serialmux.SerialMuxInterface, cfg SleepDepriverConfig, clock timeutil.Clock) (*SleepDepriver, error) {
	if mux == nil {
		return nil, fmt.Errorf("sleep depriver needs a serial mux")
	}
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("sleep depriver needs at least one channel, got %d", cfg.Channels)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SleepDepriver{mux: mux, cfg: cfg, clock: clock}, nil
}

// FormatPulse renders cmd in the firmware's wire format, without the line ending.
func FormatPulse(cmd Command) string {
	return fmt.Sprintf("P %d %d", cmd.Channel, cmd.Duration.Milliseconds())
}

func (s *SleepDepriver) Send(cmd Command) error {
	if cmd.Channel < 1 || cmd.Channel > s.cfg.Channels {
		return fmt.Errorf("channel %d out of range 1..%d", cmd.Channel, s.cfg.Channels)
	}
	if cmd.Duration <= 0 {
		return fmt.Errorf("pulse duration must be positive, got %v", cmd.Duration)
	}
	if err := s.mux.SendCommand(FormatPulse(cmd)); err != nil {
		return fmt.Errorf("send %v: %w", cmd, err)
	}
	return nil
}

// WarmUp pulses every channel once so an operator can check the wiring.
func (s *SleepDepriver) WarmUp(ctx context.Context) error {
	for ch := 1; ch <= s.cfg.Channels; ch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Send(Command{Channel: ch, Duration: s.cfg.WarmUpPulse}); err != nil {
			return fmt.Errorf("warm-up: %w", err)
		}
		s.clock.Sleep(s.cfg.WarmUpPulse + s.cfg.WarmUpGap)
	}
	logf("warm-up pulsed %d channels", s.cfg.Channels)
	return nil
}

func (s *SleepDepriver) Close() error {
	return s.mux.Close()
}

// WatchReplies logs firmware errors and counts acknowledgements until ctx
// is done or the mux closes. It returns the number of acks seen.
func WatchReplies(ctx context.Context, mux serialmux.SerialMuxInterface) int {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	acks := 0
	for {
		select {
		case <-ctx.Done():
			return acks
		case line, ok := <-lines:
			if !ok {
				return acks
			}
			switch serialmux.ClassifyReply(line) {
			case serialmux.ReplyAck:
				acks++
			case serialmux.ReplyError:
				logf("actuator rejected command: %s", line)
			}
		}
	}
}
