package timer

import (
	"context"
	"runtime/debug"
	"time"

	logx "tickd/pkg/logx"
)

func (c *core) loop(ctx context.Context, run *workerRun) {
	c.workerGID.Store(goroutineID())
	defer c.workerGID.Store(0)

	tm := time.NewTimer(c.cfg.IdlePoll)
	defer tm.Stop()

	for {
		if stopped(ctx, run) {
			return
		}

		now := c.clock.Now()
		c.mu.Lock()
		due := c.store.takeDue(now)
		for _, e := range due {
			c.inflight[e.id] = e
		}
		c.mu.Unlock()

		for i, e := range due {
			if stopped(ctx, run) {
				c.requeue(due[i:])
				return
			}
			c.fire(e, now)
		}

		tm.Reset(c.nextWait())
		select {
		case <-ctx.Done():
			return
		case <-run.stop:
			return
		case <-c.store.wake:
		case <-tm.C:
		}
	}
}

func stopped(ctx context.Context, run *workerRun) bool {
	select {
	case <-run.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// nextWait is the sleep before the next pass: time to the earliest deadline
// (at least MinSleep) or IdlePoll when the store is empty.
func (c *core) nextWait() time.Duration {
	c.mu.Lock()
	next, ok := c.store.peekNextDeadline()
	c.mu.Unlock()
	if !ok {
		return c.cfg.IdlePoll
	}
	d := next.Sub(c.clock.Now())
	if d < c.cfg.MinSleep {
		d = c.cfg.MinSleep
	}
	return d
}

// requeue puts entries taken but not run back into the store, unchanged,
// so a later Start still sees them. Marked ones are dropped instead.
func (c *core) requeue(rest []*entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range rest {
		delete(c.inflight, e.id)
		if c.cancels.consumeIfMarked(e.id) {
			continue
		}
		c.store.insert(e)
	}
}

// fire runs one due entry. fireTime is the instant the batch was taken.
func (c *core) fire(e *entry, fireTime time.Time) {
	c.mu.Lock()
	if c.cancels.consumeIfMarked(e.id) {
		delete(c.inflight, e.id)
		c.mu.Unlock()
		c.suppressed.Add(1)
		c.hot.Debug("timer suppressed", logx.Uint64("id", uint64(e.id)))
		c.publish(EventSuppressed, Event{ID: e.id, Kind: e.kind, Deadline: e.deadline})
		return
	}
	e.running = true
	c.mu.Unlock()

	started := c.clock.Now()
	perr := c.invoke(e)
	took := c.clock.Now().Sub(started)
	c.fired.Add(1)

	ev := Event{ID: e.id, Kind: e.kind, Deadline: e.deadline, Fired: started, Late: max(0, started.Sub(e.deadline)), Took: took}
	if perr != nil {
		ev.Error = perr.Error()
		c.reportPanic(perr)
	}
	c.hot.Debug("timer fired", logx.Uint64("id", uint64(e.id)), logx.Duration("late", ev.Late), logx.Duration("took", took))
	c.publish(EventFired, ev)

	c.mu.Lock()
	delete(c.inflight, e.id)
	e.running = false
	// A cancel that landed while the callback ran is resolved here.
	cancelled := c.cancels.consumeIfMarked(e.id)
	if e.repeat && !cancelled {
		if next, ok := c.nextDeadline(e, fireTime); ok {
			e.deadline = next
			c.store.insert(e)
		}
	}
	c.mu.Unlock()
}

// nextDeadline computes the re-arm point from the fire time, never from the
// time of re-insertion. A cron schedule with no further match ends the entry.
func (c *core) nextDeadline(e *entry, fireTime time.Time) (time.Time, bool) {
	if e.kind == KindCron {
		wall := fireTime.In(c.loc)
		next := e.sched.Next(wall)
		if next.IsZero() || !next.After(wall) {
			return time.Time{}, false
		}
		return fireTime.Add(next.Sub(wall)), true
	}
	return fireTime.Add(e.interval), true
}

func (c *core) invoke(e *entry) (perr *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			perr = &PanicError{ID: e.id, Value: r, Stack: string(debug.Stack())}
		}
	}()
	e.fn()
	return nil
}

func (c *core) reportPanic(perr *PanicError) {
	n := c.panics.Add(1)
	if c.panicLim.Allow() {
		c.log.Error("timer callback panicked", logx.Uint64("id", uint64(perr.ID)), logx.Any("panic", perr.Value), logx.Uint64("panics_total", n), logx.Stack(perr.Stack))
	}
	c.publish(EventPanic, Event{ID: perr.ID, Error: perr.Error()})
	if c.onPanic != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("panic handler panicked", logx.Any("panic", r))
				}
			}()
			c.onPanic(perr)
		}()
	}
}
