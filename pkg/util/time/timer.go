// Package time contains timer reuse helpers.
package time

import (
	"sync"
	"time"
)

var timers sync.Pool

// AcquireTimer returns timer from the pool that fires after d.
// Returned timer must be given back with ReleaseTimer when caller is done
// with it.
func AcquireTimer(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	tm := v.(*time.Timer)
	if tm.Reset(d) {
		// Active timer must never be in the pool.
		panic("time: active timer trapped into AcquireTimer()")
	}

	return tm
}

// ReleaseTimer stops tm and puts it back to the pool.
// Caller must not use tm after this call.
func ReleaseTimer(tm *time.Timer) {
	if !tm.Stop() {
		// Timer already fired or was stopped. Drain the channel if the
		// value was not received so the next Acquire does not see stale
		// event.
		select {
		case <-tm.C:
		default:
		}
	}

	timers.Put(tm)
}

// Sleep pauses current goroutine for d or until done is closed. It reports
// whether the whole duration has passed.
func Sleep(d time.Duration, done <-chan struct{}) bool {
	tm := AcquireTimer(d)
	defer ReleaseTimer(tm)

	select {
	case <-tm.C:
		return true
	case <-done:
		return false
	}
}
