package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickd/internal/config"
	"tickd/internal/eventbus"
	"tickd/internal/storage"
	"tickd/internal/timer"
	logx "tickd/pkg/logx"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestAppRecordsJobFires(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, cfgPath, `
logging:
  level: warn
scheduler:
  idle_poll: 10ms
storage:
  driver: file
  path: `+filepath.Join(dir, "fires.jsonl")+`
jobs:
  - name: fast
    schedule: 20ms
    message: tick
  - name: boot
    schedule: 0s
    once: true
`)

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		recs, err := a.Store().RecentFires(context.Background(), 50)
		if err != nil {
			return false
		}
		var fast, boot int
		for _, r := range recs {
			switch r.Job {
			case "fast":
				fast++
			case "boot":
				boot++
			}
		}
		return fast >= 3 && boot == 1
	})

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Scheduler().Running() {
		t.Fatal("scheduler still running after Stop")
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestJobSetReconcile(t *testing.T) {
	t.Parallel()
	sched := timer.New()
	js := newJobSet(sched, logx.Nop())

	js.reconcile([]config.JobConfig{
		{Name: "keep", Schedule: "1h"},
		{Name: "edit", Schedule: "1h"},
		{Name: "drop", Schedule: "@daily"},
	})
	if js.len() != 3 || sched.Pending() != 3 {
		t.Fatalf("jobs = %d, pending = %d", js.len(), sched.Pending())
	}
	keepID, _ := js.id("keep")
	editID, _ := js.id("edit")
	dropID, _ := js.id("drop")

	js.reconcile([]config.JobConfig{
		{Name: "keep", Schedule: "1h"},
		{Name: "edit", Schedule: "2h"},
		{Name: "new", Schedule: "5s", Once: true},
	})
	if js.len() != 3 || sched.Pending() != 3 {
		t.Fatalf("after reload jobs = %d, pending = %d", js.len(), sched.Pending())
	}
	if id, _ := js.id("keep"); id != keepID {
		t.Fatal("unchanged job was rescheduled")
	}
	if id, _ := js.id("edit"); id == editID {
		t.Fatal("edited job kept its old timer")
	}
	if _, ok := js.id("drop"); ok {
		t.Fatal("removed job still registered")
	}
	if res := sched.Cancel(dropID); res != timer.CancelAlreadyFired {
		t.Fatalf("removed job timer should be gone, cancel = %v", res)
	}
	if js.name(keepID) != "keep" || js.name(dropID) != "drop" || js.name(editID) != "edit" {
		t.Fatal("id to name index out of date")
	}

	// Retired names only survive one reconcile.
	js.reconcile([]config.JobConfig{{Name: "keep", Schedule: "1h"}})
	if js.name(dropID) != "" {
		t.Fatal("retired name kept past the next reconcile")
	}
}

func TestJobSetNamesZeroDelayFire(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	fires, unsub := bus.Subscribe(8, timer.EventFired)
	defer unsub()
	sched := timer.New(timer.WithBus(bus))
	if err := sched.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()
	js := newJobSet(sched, logx.Nop())

	js.reconcile([]config.JobConfig{{Name: "boot", Schedule: "0s", Once: true}})
	select {
	case e := <-fires:
		ev := e.Data.(timer.Event)
		if got := js.name(ev.ID); got != "boot" {
			t.Fatalf("name(%d) = %q, want boot", ev.ID, got)
		}
	case <-time.After(time.Second):
		t.Fatal("zero-delay job did not fire")
	}
}

func TestStopRecordsEveryFire(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	histPath := filepath.Join(dir, "fires.jsonl")
	writeConfig(t, cfgPath, `
logging:
  level: error
scheduler:
  idle_poll: 5ms
storage:
  driver: file
  path: `+histPath+`
jobs:
  - name: busy
    schedule: 5ms
`)

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	fired := a.Scheduler().Snapshot().Fired

	st, err := storage.Open(storage.Config{Driver: "file", Path: histPath}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer st.Close()
	recs, err := st.RecentFires(context.Background(), 1000)
	if err != nil {
		t.Fatalf("RecentFires: %v", err)
	}
	if fired == 0 || uint64(len(recs)) != fired {
		t.Fatalf("history has %d records, scheduler fired %d", len(recs), fired)
	}
	for _, r := range recs {
		if r.Job != "busy" {
			t.Fatalf("record without job name: %+v", r)
		}
	}
}

func TestJobSetSkipsBadSchedule(t *testing.T) {
	t.Parallel()
	sched := timer.New()
	js := newJobSet(sched, logx.Nop())
	js.reconcile([]config.JobConfig{{Name: "bad", Schedule: "sometimes"}, {Name: "good", Schedule: "1m"}})
	if js.len() != 1 || sched.Pending() != 1 {
		t.Fatalf("jobs = %d, pending = %d", js.len(), sched.Pending())
	}
}

func TestApplyConfigReconcilesJobs(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeConfig(t, cfgPath, `{"logging":{"level":"error"},"jobs":[{"name":"a","schedule":"1h"}]}`)

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Store() != nil {
		t.Fatal("storage should be disabled without a storage section")
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop(context.Background())

	oldCfg := a.cfgm.Get()
	newCfg := &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Jobs:    []config.JobConfig{{Name: "b", Schedule: "2h"}},
	}
	a.applyConfig(oldCfg, newCfg)
	if _, ok := a.jobs.id("a"); ok {
		t.Fatal("job a should be removed")
	}
	if _, ok := a.jobs.id("b"); !ok {
		t.Fatal("job b should be scheduled")
	}
	if p := a.Scheduler().Pending(); p != 1 {
		t.Fatalf("pending = %d, want 1", p)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, cfgPath, `{"jobs":[{"name":"x","schedule":"never"}]}`)
	if _, err := New(cfgPath); err == nil {
		t.Fatal("expected error for invalid job schedule")
	}
}
