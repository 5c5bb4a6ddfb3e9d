package app

import (
	"context"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/storage"
	"tickd/internal/timer"
	logx "tickd/pkg/logx"
)

// recorder copies timer.fired events into the fire history.
type recorder struct {
	store storage.Store
	jobs  *jobSet
	log   logx.Logger
}

func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(events)
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.record(ctx, e); err != nil {
				// A failing store must not stall the bus subscriber; keep going.
				r.log.Warn("fire history append failed", logx.String("type", e.Type), logx.Err(err))
			}
		}
	}
}

// drain records what is already buffered, bounded by a short timeout.
func (r *recorder) drain(events <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			_ = r.record(ctx, e)
		default:
			return
		}
	}
}

func (r *recorder) record(ctx context.Context, e eventbus.Event) error {
	ev, ok := e.Data.(timer.Event)
	if !ok {
		return nil
	}
	return r.store.AppendFire(ctx, storage.FireRecord{
		At:       ev.Fired,
		TimerID:  uint64(ev.ID),
		Job:      r.jobs.name(ev.ID),
		Kind:     string(ev.Kind),
		Deadline: ev.Deadline,
		LateMS:   ev.Late.Milliseconds(),
		TookMS:   ev.Took.Milliseconds(),
		Error:    ev.Error,
	})
}
