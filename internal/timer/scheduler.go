package timer

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickd/internal/eventbus"
	"tickd/internal/runtime/supervisor"
	logx "tickd/pkg/logx"
)

// Scheduler runs timer callbacks on one dedicated worker goroutine.
//
// Instances are independent: each owns its lock, store and worker.
// A Scheduler that becomes unreachable while running is stopped by a
// finalizer, but callers should Stop (or Close) it explicitly.
type Scheduler struct {
	c *core
}

type core struct {
	mu       sync.Mutex
	store    *store
	cancels  *cancelRegistry
	inflight map[ID]*entry

	state State
	run   *workerRun

	// goroutine id of the live worker, 0 when none.
	workerGID atomic.Uint64

	cfg      Config
	loc      *time.Location
	log      logx.Logger
	hot      logx.Logger // sampled, per-fire debug
	bus      eventbus.Bus
	clock    Clock
	onPanic  func(*PanicError)
	panicLim *rate.Limiter

	scheduled  atomic.Uint64
	fired      atomic.Uint64
	suppressed atomic.Uint64
	cancelled  atomic.Uint64
	panics     atomic.Uint64
}

// workerRun is the context of one Start; never reused across Starts.
type workerRun struct {
	sup  *supervisor.Supervisor
	stop chan struct{}
}

func New(opts ...Option) *Scheduler {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}
	cfg := o.cfg.withDefaults()

	c := &core{
		store:    newStore(),
		cancels:  newCancelRegistry(),
		inflight: map[ID]*entry{},
		cfg:      cfg,
		log:      o.log,
		hot:      o.log.Sampled(hotLogBurst, time.Second),
		bus:      o.bus,
		clock:    o.clock,
		onPanic:  o.onPanic,
		panicLim: rate.NewLimiter(rate.Limit(cfg.PanicLogPerSec), cfg.PanicLogPerSec),
	}
	c.loc = c.loadLocation()

	s := &Scheduler{c: c}
	runtime.SetFinalizer(s, func(s *Scheduler) { s.c.stop() })
	return s
}

// Start spawns the worker. It returns ErrAlreadyRunning when the worker is
// running, and ErrStopInProgress when called from a callback of a worker
// that was asked to stop but has not exited yet.
func (s *Scheduler) Start() error { return s.c.start() }

// Stop signals the worker and waits for it to exit. Pending entries stay in
// the store without running. Safe to call repeatedly; from inside a callback
// it signals only and returns.
func (s *Scheduler) Stop() { s.c.stop() }

// Close stops the scheduler.
func (s *Scheduler) Close() error {
	s.c.stop()
	return nil
}

// Running reports whether the worker is in the running state.
func (s *Scheduler) Running() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.state == StateRunning
}

// ScheduleAfter runs fn once, delay from now.
func (s *Scheduler) ScheduleAfter(delay time.Duration, fn Func) (ID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if delay < 0 {
		return 0, ErrInvalidDelay
	}
	return s.c.add(&entry{kind: KindOnce, deadline: s.c.clock.Now().Add(delay), fn: fn}), nil
}

// ScheduleEvery runs fn every interval, first after one interval.
func (s *Scheduler) ScheduleEvery(interval time.Duration, fn Func) (ID, error) {
	if fn == nil {
		return 0, ErrNilCallback
	}
	if interval <= 0 {
		return 0, ErrInvalidInterval
	}
	return s.c.add(&entry{
		kind:     KindEvery,
		deadline: s.c.clock.Now().Add(interval),
		interval: interval,
		fn:       fn,
		repeat:   true,
	}), nil
}

// Cancel stops a timer from running or re-arming. See CancelResult.
func (s *Scheduler) Cancel(id ID) CancelResult { return s.c.cancel(id) }

// Pending returns the number of entries waiting in the store.
func (s *Scheduler) Pending() int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.store.len()
}

func (s *Scheduler) Snapshot() Snapshot {
	c := s.c
	c.mu.Lock()
	snap := Snapshot{
		State:    c.state,
		Pending:  c.store.len(),
		InFlight: len(c.inflight),
		Marked:   c.cancels.len(),
	}
	if next, ok := c.store.peekNextDeadline(); ok {
		snap.NextDeadline = next
		snap.NextIn = max(0, next.Sub(c.clock.Now()))
	}
	run := c.run
	c.mu.Unlock()

	snap.Scheduled = c.scheduled.Load()
	snap.Fired = c.fired.Load()
	snap.Suppressed = c.suppressed.Load()
	snap.Cancelled = c.cancelled.Load()
	snap.Panics = c.panics.Load()
	if run != nil {
		snap.Worker = run.sup.Snapshot()
	}
	return snap
}

func (c *core) start() error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	prev := c.run
	c.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.sup.Done():
		default:
			if c.onWorker() {
				return ErrStopInProgress
			}
			<-prev.sup.Done()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return ErrAlreadyRunning
	}
	run := &workerRun{
		sup:  supervisor.New(context.Background(), supervisor.WithLogger(c.log)),
		stop: make(chan struct{}),
	}
	c.run = run
	c.state = StateRunning
	run.sup.Go("timer.worker", func(ctx context.Context) error {
		c.loop(ctx, run)
		return nil
	})
	c.log.Info("scheduler started", logx.Int("pending", c.store.len()), logx.Duration("idle_poll", c.cfg.IdlePoll))
	return nil
}

func (c *core) stop() {
	c.mu.Lock()
	run := c.run
	wasRunning := c.state == StateRunning
	if wasRunning {
		c.state = StateStopped
		close(run.stop)
		run.sup.Cancel()
	}
	c.mu.Unlock()

	if run == nil || c.onWorker() {
		return
	}
	<-run.sup.Done()
	if wasRunning {
		c.log.Info("scheduler stopped", logx.Int("pending", c.pendingCount()))
	}
}

// pendingCount is the lock-taking store size.
func (c *core) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.len()
}

func (c *core) onWorker() bool {
	gid := c.workerGID.Load()
	return gid != 0 && gid == goroutineID()
}

func (c *core) add(e *entry) ID {
	c.mu.Lock()
	id := c.store.insert(e)
	ev := Event{ID: id, Kind: e.kind, Deadline: e.deadline}
	c.mu.Unlock()

	c.scheduled.Add(1)
	c.log.Debug("timer scheduled", logx.Uint64("id", uint64(id)), logx.String("kind", string(e.kind)), logx.Duration("interval", e.interval))
	c.publish(EventScheduled, ev)
	return id
}

func (c *core) cancel(id ID) CancelResult {
	c.mu.Lock()
	if !c.store.issued(id) {
		c.mu.Unlock()
		return CancelNotFound
	}
	var res CancelResult
	var kind Kind
	if e, ok := c.store.byID[id]; ok {
		kind = e.kind
		c.store.remove(id)
		c.store.signal()
		res = CancelWasPending
	} else if e, ok := c.inflight[id]; ok && (e.repeat || !e.running) && !c.cancels.marked(id) {
		// Taken by the worker: suppress its next run or re-arm. A second
		// cancel finds the mark already set and reports the timer as gone.
		kind = e.kind
		c.cancels.mark(id)
		res = CancelWasPending
	} else {
		res = CancelAlreadyFired
	}
	c.mu.Unlock()

	if res == CancelWasPending {
		c.cancelled.Add(1)
		c.log.Debug("timer cancelled", logx.Uint64("id", uint64(id)))
		c.publish(EventCancelled, Event{ID: id, Kind: kind})
	}
	return res
}

func (c *core) publish(typ string, ev Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func (c *core) loadLocation() *time.Location {
	tz := strings.TrimSpace(c.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		c.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
