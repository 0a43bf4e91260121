package host

import "time"

// Timer is a pending deferred call.
type Timer interface {
	Stop() bool
}

// Clock supplies the delays the root hub and deferred work need. Sleep is
// only ever called with the scheduler lock released.
type Clock interface {
	Sleep(d time.Duration)
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option configures an HCD.
type Option func(*HCD)

// WithClock replaces the system clock, typically with a fake in tests.
func WithClock(c Clock) Option {
	return func(h *HCD) {
		h.clock = c
	}
}

// WithParams sets the core parameters. The default is [DefaultParams].
func WithParams(p Params) Option {
	return func(h *HCD) {
		h.params = p
	}
}
