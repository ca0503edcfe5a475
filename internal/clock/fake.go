package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Tickers and timers fire only from Advance, and
// like their time package counterparts they drop ticks when the reader falls behind.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	c       chan time.Time
	next    time.Time
	period  time.Duration
	stopped bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	return &fakeTicker{f: f, w: f.add(d, d)}
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	return &fakeTimer{f: f, w: f.add(d, 0)}
}

// Advance moves the clock forward, firing every ticker and timer that comes due in order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	for {
		w := f.earliestLocked(target)
		if w == nil {
			break
		}
		f.now = w.next
		select {
		case w.c <- w.next:
		default:
		}
		if w.period > 0 {
			w.next = w.next.Add(w.period)
		} else {
			w.stopped = true
		}
	}
	f.now = target
}

// Waiters returns the number of live tickers and timers
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

func (f *Fake) add(d, period time.Duration) *fakeWaiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		c:      make(chan time.Time, 1),
		next:   f.now.Add(d),
		period: period,
	}
	f.waiters = append(f.waiters, w)
	return w
}

func (f *Fake) earliestLocked(limit time.Time) *fakeWaiter {
	var earliest *fakeWaiter
	for _, w := range f.waiters {
		if w.stopped || w.next.After(limit) {
			continue
		}
		if earliest == nil || w.next.Before(earliest.next) {
			earliest = w
		}
	}
	return earliest
}

func (f *Fake) stop(w *fakeWaiter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := !w.stopped
	w.stopped = true
	return active
}

type fakeTicker struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.c }
func (t *fakeTicker) Stop()               { t.f.stop(t.w) }

type fakeTimer struct {
	f *Fake
	w *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.c }
func (t *fakeTimer) Stop() bool          { return t.f.stop(t.w) }
