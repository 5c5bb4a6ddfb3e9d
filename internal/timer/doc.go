// Package timer is tickd's in-process timer scheduler.
//
// # Overview
//
// Callers register one-shot (ScheduleAfter) or periodic (ScheduleEvery,
// ScheduleSpec) callbacks. All callbacks run sequentially on one dedicated
// worker goroutine per Scheduler; callers only do bookkeeping under a single
// mutex. A slow callback delays every timer due after it, so keep callbacks
// short or hand long work to another goroutine.
//
// # Store and wake-up
//
// Pending entries live in a min-heap keyed by deadline. The worker takes
// every due entry in one locked step, runs them, re-arms periodic entries
// at fire time + interval (drift free), then sleeps until the next deadline
// (clamped to MinSleep) or IdlePoll when nothing is pending. Inserts and
// cancels wake the worker early.
//
// Deadlines come from the monotonic reading carried by time.Now, so wall
// clock adjustments do not move timers.
//
// # Cancellation
//
// Cancel removes a pending entry outright. When the entry was already taken
// by the worker, Cancel records a mark that suppresses the next run or
// re-arm decision for that id. A cancel racing with a running periodic
// callback lets that single run finish and prevents any further run.
//
// # Lifecycle
//
// Start spawns a fresh worker; Stop signals it and waits until it exited,
// so no callback runs after Stop returns. Stop from inside a callback only
// signals. A stopped Scheduler can be started again; entries that were
// pending keep their deadlines. Entries may be registered while stopped.
//
// Callbacks close over caller state; keeping that state valid until the
// entry fired or was cancelled is the caller's job.
package timer
