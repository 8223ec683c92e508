package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/hanig/hani-replica/internal/events"
)

// Counts is a snapshot of today's activity.
type Counts struct {
	InputTokens   int64
	OutputTokens  int64
	ModelRequests int64
	Messages      int64
	Threats       int64
	Notifications int64
}

// DailyCounters accumulates activity that resets at local midnight. It
// is safe for concurrent use and satisfies usage.TokenObserver.
type DailyCounters struct {
	mu       sync.Mutex
	c        Counts
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyCounters uses loc for midnight detection; nil means
// [time.Local].
func NewDailyCounters(loc *time.Location) *DailyCounters {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyCounters{loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// OnTokens records one model call.
func (d *DailyCounters) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.c.InputTokens += int64(inputTokens)
	d.c.OutputTokens += int64(outputTokens)
	d.c.ModelRequests++
}

// Observe counts the bus events that have sensors.
func (d *DailyCounters) Observe(e events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	switch e.Kind {
	case events.KindMessageHandled:
		d.c.Messages++
	case events.KindThreat:
		d.c.Threats++
	case events.KindNotification:
		d.c.Notifications++
	}
}

// Follow feeds bus events into the counters until ctx is cancelled.
func (d *DailyCounters) Follow(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			d.Observe(e)
		}
	}
}

// Snapshot returns today's totals.
func (d *DailyCounters) Snapshot() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.c
}

// maybeReset must be called with d.mu held.
func (d *DailyCounters) maybeReset() {
	if today := d.now().In(d.loc).YearDay(); today != d.resetDay {
		d.c = Counts{}
		d.resetDay = today
	}
}
