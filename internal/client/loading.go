package client

import "sync/atomic"

// LoadingTracker counts requests currently in flight so a UI can derive a
// busy indicator. It is a counter rather than a boolean: one request
// settling must not clear the indicator while sibling requests are still
// outstanding. Callers share a single tracker by injecting it into every
// Client that should contribute to the same indicator.
type LoadingTracker struct {
	inFlight atomic.Int64
}

// Begin records the start of a tracked request.
func (t *LoadingTracker) Begin() {
	t.inFlight.Add(1)
}

// End records the settlement of a tracked request. Settlement covers every
// path, including setup failures, so the counter never stays raised.
func (t *LoadingTracker) End() {
	if t.inFlight.Add(-1) < 0 {
		// Unbalanced End calls clamp at zero instead of going negative.
		t.inFlight.Store(0)
	}
}

// InFlight reports the number of tracked requests that have begun but not
// yet settled.
func (t *LoadingTracker) InFlight() int64 {
	return t.inFlight.Load()
}

// Busy reports whether any tracked request is in flight.
func (t *LoadingTracker) Busy() bool {
	return t.InFlight() > 0
}
