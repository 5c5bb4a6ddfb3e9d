package timer

import (
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/runtime/supervisor"
	logx "tickd/pkg/logx"
)

// ID identifies a timer within one Scheduler. Zero is never issued.
type ID uint64

// Func is a timer callback.
type Func func()

// Kind is the flavour of a timer entry.
type Kind string

const (
	KindOnce  Kind = "once"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// State is the worker lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// CancelResult is the outcome of Cancel.
type CancelResult int

const (
	// CancelNotFound: the id was never issued by this Scheduler.
	CancelNotFound CancelResult = iota
	// CancelWasPending: the timer was live and will not run (one-shot) or
	// re-arm (periodic) anymore.
	CancelWasPending
	// CancelAlreadyFired: the id is no longer live; it fired or was cancelled before.
	CancelAlreadyFired
)

// Pending reports whether the cancel hit a live timer.
func (r CancelResult) Pending() bool { return r == CancelWasPending }

func (r CancelResult) String() string {
	switch r {
	case CancelWasPending:
		return "was_pending"
	case CancelAlreadyFired:
		return "already_fired"
	default:
		return "not_found"
	}
}

// Clock supplies the current time. Values must carry a monotonic reading
// (as time.Now does) for deadlines to ignore wall clock steps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config tunes the worker loop.
type Config struct {
	// IdlePoll bounds the sleep while no timer is pending (default 50ms).
	IdlePoll time.Duration
	// MinSleep is the floor for any sleep (default 1ms).
	MinSleep time.Duration
	// PanicLogPerSec limits callback panic logs (default 1).
	PanicLogPerSec int
	// Timezone is the IANA zone for cron specs (default Local).
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.IdlePoll <= 0 {
		c.IdlePoll = 50 * time.Millisecond
	}
	if c.MinSleep <= 0 {
		c.MinSleep = time.Millisecond
	}
	if c.PanicLogPerSec <= 0 {
		c.PanicLogPerSec = 1
	}
	return c
}

type Option func(*options)

type options struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	onPanic func(*PanicError)
}

func WithConfig(cfg Config) Option { return func(o *options) { o.cfg = cfg } }

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithBus publishes lifecycle events (timer.*) on bus.
func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithPanicHandler is called on the worker after a callback panic was recovered.
func WithPanicHandler(fn func(*PanicError)) Option { return func(o *options) { o.onPanic = fn } }

// hotLogBurst caps per-fire debug lines per second.
const hotLogBurst = 20

// Event types published on the bus.
const (
	EventScheduled  = "timer.scheduled"
	EventFired      = "timer.fired"
	EventSuppressed = "timer.suppressed"
	EventCancelled  = "timer.cancelled"
	EventPanic      = "timer.panic"
)

// Event is the payload of timer.* bus events.
type Event struct {
	ID       ID            `json:"id"`
	Kind     Kind          `json:"kind"`
	Deadline time.Time     `json:"deadline"`
	Fired    time.Time     `json:"fired,omitempty"`
	Late     time.Duration `json:"late,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a diagnostics view of a Scheduler.
type Snapshot struct {
	State        State
	Pending      int
	InFlight     int
	Marked       int
	NextDeadline time.Time
	NextIn       time.Duration

	Scheduled  uint64
	Fired      uint64
	Suppressed uint64
	Cancelled  uint64
	Panics     uint64

	Worker supervisor.Snapshot
}
