package postmsg

import "time"

// fakeScheduler runs every scheduled function inline, synchronously,
// instead of waiting out the real duration — the tests care about retry
// counting and sequencing, not wall-clock timing.
type fakeScheduler struct {
	calls int
}

func (f *fakeScheduler) After(d time.Duration, fn func()) func() {
	f.calls++
	fn()
	return func() {}
}

// fakeMetrics is a test-local wrapper around DefaultMetrics; tests read the
// counters it accumulates through the embedded Get* methods.
type fakeMetrics struct {
	*DefaultMetrics
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{DefaultMetrics: NewDefaultMetrics()}
}
