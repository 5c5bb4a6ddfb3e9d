package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  idle_poll: 20ms
  min_sleep: 1ms
  timezone: UTC
storage:
  driver: file
  path: ./history.jsonl
jobs:
  - name: heartbeat
    schedule: 30s
    message: still alive
  - name: nightly
    schedule: "0 3 * * *"
  - name: warmup
    schedule: 5s
    once: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if len(cfg.Jobs) != 3 || !cfg.Jobs[2].Once {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit the config")
	}
	tc := cfg.Scheduler.TimerConfig()
	if tc.IdlePoll != 20*time.Millisecond || tc.MinSleep != time.Millisecond || tc.Timezone != "UTC" {
		t.Fatalf("timer config = %+v", tc)
	}
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"logging":{"level":"info"},"notifier":{}}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"logging":{}}{"logging":{}}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "empty", cfg: Config{}, ok: true},
		{name: "bad idle poll", cfg: Config{Scheduler: SchedulerConfig{IdlePoll: "soon"}}},
		{name: "negative min sleep", cfg: Config{Scheduler: SchedulerConfig{MinSleep: "-1ms"}}},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{name: "unknown driver", cfg: Config{Storage: &StorageConfig{Driver: "redis", Path: "x"}}},
		{name: "sqlite without path", cfg: Config{Storage: &StorageConfig{Driver: "sqlite"}}},
		{name: "none driver", cfg: Config{Storage: &StorageConfig{Driver: "none"}}, ok: true},
		{name: "job without name", cfg: Config{Jobs: []JobConfig{{Schedule: "1m"}}}},
		{name: "duplicate job", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "1m"}, {Name: "a", Schedule: "2m"}}}},
		{name: "bad schedule", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "whenever"}}}},
		{name: "once needs duration", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "*/5 * * * *", Once: true}}}},
		{name: "once zero delay", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "0s", Once: true}}}, ok: true},
		{name: "cron job", cfg: Config{Jobs: []JobConfig{{Name: "a", Schedule: "cron:*/5 * * * *"}}}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("error %v should wrap ErrInvalidConfig", err)
				}
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "1m"},
			{Name: "edit", Schedule: "1m"},
			{Name: "drop", Schedule: "1m"},
		},
	}
	newCfg := &Config{
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{IdlePoll: "10ms"},
		Jobs: []JobConfig{
			{Name: "keep", Schedule: "1m"},
			{Name: "edit", Schedule: "2m"},
			{Name: "new", Schedule: "1m"},
		},
	}
	changed, attrs, jd := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 || changed[0] != "jobs" || changed[1] != "scheduler" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if len(jd.Added) != 1 || jd.Added[0] != "new" {
		t.Fatalf("added = %v", jd.Added)
	}
	if len(jd.Removed) != 1 || jd.Removed[0] != "drop" {
		t.Fatalf("removed = %v", jd.Removed)
	}
	if len(jd.Changed) != 1 || jd.Changed[0] != "edit" {
		t.Fatalf("changed jobs = %v", jd.Changed)
	}

	if changed, _, jd := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 || !jd.Empty() {
		t.Fatalf("identical configs reported %v %+v", changed, jd)
	}
}

func TestSubscribeKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatal("slow subscriber should receive the newest config")
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("Unsubscribe should close the channel")
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "logging:\n  level: info\n")
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.yaml", "logging:\n  level: debug\njobs:\n  - name: a\n    schedule: 1s\n")

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" || len(cfg.Jobs) != 1 {
			t.Fatalf("reloaded config = %+v", cfg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload published")
	}

	// An invalid edit is rejected and the committed config stays.
	writeFile(t, dir, "config.yaml", "jobs:\n  - name: a\n    schedule: nope\n")
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected reload replaced the committed config")
	}
}

func TestToJSONSniffsFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		path   string
		data   string
		format string
	}{
		{name: "json ext", path: "c.json", data: `{"jobs":[]}`, format: "json"},
		{name: "yaml ext", path: "c.yml", data: "jobs: []\n", format: "yaml"},
		{name: "bare json", path: "tickd.conf", data: "  {\"jobs\":[]}", format: "json"},
		{name: "bare yaml", path: "tickd.conf", data: "jobs: []\n", format: "yaml"},
		{name: "empty yaml", path: "c.yaml", data: "", format: "yaml"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, format, err := toJSON(tt.path, []byte(tt.data))
			if err != nil {
				t.Fatalf("toJSON: %v", err)
			}
			if format != tt.format {
				t.Fatalf("format = %s, want %s", format, tt.format)
			}
		})
	}
}

func TestYAMLNonStringKeys(t *testing.T) {
	t.Parallel()
	cfg, err := decode("c.yaml", []byte("jobs:\n  - name: 42\n    schedule: 1m\n"))
	if err == nil {
		t.Fatalf("numeric job name should not decode into a string field, got %+v", cfg)
	}
	j, _, err := toJSON("c.yaml", []byte("1: one\ntrue: yes\n"))
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	if string(j) != `{"1":"one","true":"yes"}` {
		t.Fatalf("json = %s", j)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Second); err != nil || d != time.Second {
		t.Fatalf("zero = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "250ms", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("set = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-1s", time.Second); err == nil {
		t.Fatal("negative should fail")
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	d := newDebouncer(40*time.Millisecond, func() { n.Add(1) })
	defer d.stop()
	for i := 0; i < 5; i++ {
		d.trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
	d.trigger()
	time.Sleep(150 * time.Millisecond)
	if got := n.Load(); got != 2 {
		t.Fatalf("fn ran %d times after second burst, want 2", got)
	}
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	t.Parallel()
	a, err := decode("a.yaml", []byte("jobs:\n  - name: x\n    schedule: 1s\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := decode("b.json", []byte(`{ "jobs": [ {"name":"x", "schedule":"1s"} ] }`))
	if err != nil {
		t.Fatal(err)
	}
	if fingerprintOf(a) == 0 || fingerprintOf(a) != fingerprintOf(b) {
		t.Fatal("equivalent configs should share a fingerprint")
	}
}

func TestShippedSampleConfigLoads(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager(filepath.Join("..", "..", "config.example.yaml")).Load()
	if err != nil {
		t.Fatalf("config.example.yaml: %v", err)
	}
	if len(cfg.Jobs) == 0 || cfg.Storage == nil {
		t.Fatalf("sample config lost sections: %+v", cfg)
	}
}
