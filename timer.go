package broker

import (
	"sync"
	"sync/atomic"
	"time"
)

var timerPool sync.Pool

func startTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t := v.(*time.Timer)
		t.Reset(d)
		return t
	}
	return time.NewTimer(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}

// genTimer is a delayed self-message whose firing is guarded by a
// generation counter. A state transition bumps the generation so that
// stale timer fires are ignored rather than literally cancelled, per the
// cancellation policy in the clone/master concurrency model.
type genTimer struct {
	gen atomic.Uint64
}

// bump invalidates any previously scheduled fire and returns the
// generation a new timer must present to be honored.
func (g *genTimer) bump() uint64 {
	return g.gen.Add(1)
}

// current returns the generation currently considered live.
func (g *genTimer) current() uint64 {
	return g.gen.Load()
}

// schedule starts a timer for d that calls fn with the generation live
// at schedule time if it is still live when the timer fires. The
// underlying *time.Timer is drawn from and returned to timerPool
// rather than allocated fresh, since clones and masters reschedule
// their resync/stale/mutation-buffer/expiry timers frequently.
func (g *genTimer) schedule(d time.Duration, fn func()) {
	gen := g.bump()
	t := startTimer(d)
	go func() {
		<-t.C
		stopTimer(t)
		if g.gen.Load() == gen {
			fn()
		}
	}()
}
