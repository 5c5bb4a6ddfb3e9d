package app

import (
	"strings"
	"sync"
	"time"

	"tickd/internal/config"
	"tickd/internal/timer"
	logx "tickd/pkg/logx"
)

type jobHandle struct {
	id  timer.ID
	key string
}

// jobSet keeps configured jobs registered on the scheduler.
type jobSet struct {
	sched *timer.Scheduler
	log   logx.Logger

	// mu is held across scheduling in reconcile, so name() cannot observe an
	// id before its job name is indexed, even for a zero-delay job.
	mu     sync.Mutex
	byName map[string]jobHandle
	byID   map[timer.ID]string

	// retired keeps names of jobs removed by the last reconcile; their final
	// fire events may still be queued for the recorder.
	retired map[timer.ID]string
}

func newJobSet(sched *timer.Scheduler, log logx.Logger) *jobSet {
	return &jobSet{
		sched:   sched,
		log:     log,
		byName:  map[string]jobHandle{},
		byID:    map[timer.ID]string{},
		retired: map[timer.ID]string{},
	}
}

// reconcile cancels jobs that were removed or edited and schedules the ones
// that are new or edited. Unchanged jobs keep their timer (and phase).
func (s *jobSet) reconcile(jobs []config.JobConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]config.JobConfig, len(jobs))
	for _, j := range jobs {
		want[strings.TrimSpace(j.Name)] = j
	}

	retired := map[timer.ID]string{}
	for name, h := range s.byName {
		if j, ok := want[name]; ok && j.Key() == h.key {
			continue
		}
		res := s.sched.Cancel(h.id)
		delete(s.byName, name)
		delete(s.byID, h.id)
		retired[h.id] = name
		s.log.Info("job removed", logx.String("job", name), logx.Uint64("id", uint64(h.id)), logx.String("cancel", res.String()))
	}

	s.retired = retired

	for name, j := range want {
		if _, ok := s.byName[name]; ok {
			continue
		}
		id, err := s.schedule(name, j)
		if err != nil {
			s.log.Error("job schedule failed", logx.String("job", name), logx.String("schedule", j.Schedule), logx.Err(err))
			continue
		}
		s.byName[name] = jobHandle{id: id, key: j.Key()}
		s.byID[id] = name
		s.log.Info("job scheduled", logx.String("job", name), logx.String("schedule", j.Schedule), logx.Bool("once", j.Once), logx.Uint64("id", uint64(id)))
	}
}

func (s *jobSet) schedule(name string, j config.JobConfig) (timer.ID, error) {
	msg := j.Message
	fn := func() {
		s.log.Info("job fired", logx.String("job", name), logx.String("message", msg))
	}
	if j.Once {
		d, err := time.ParseDuration(strings.TrimSpace(j.Schedule))
		if err != nil {
			return 0, err
		}
		return s.sched.ScheduleAfter(d, fn)
	}
	return s.sched.ScheduleSpec(j.Schedule, fn)
}

// name returns the job owning a timer id, or "" for timers not created from
// config. Jobs removed by the latest reconcile still resolve.
func (s *jobSet) name(id timer.ID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byID[id]; ok {
		return n
	}
	return s.retired[id]
}

func (s *jobSet) id(name string) (timer.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byName[name]
	return h.id, ok
}

func (s *jobSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName)
}
