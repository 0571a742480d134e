package postmsg

import "time"

// Scheduler is a minimal external capability for one-shot delayed work,
// injected at construction so retry timers are deterministic under test.
// This mirrors spec §9's own design note: "accept a schedule(ms, fn)
// injected at construction for deterministic testing."
type Scheduler interface {
	// After arranges for fn to run once, no sooner than d from now. The
	// returned cancel function prevents fn from running if it hasn't yet;
	// calling it after fn has already run is a no-op.
	After(d time.Duration, fn func()) (cancel func())
}

// realScheduler schedules work on the Go runtime's timers.
type realScheduler struct{}

// NewRealScheduler returns the production Scheduler, backed by
// time.AfterFunc.
func NewRealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
