package config

import "strings"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler tunes the timer worker loop.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage keeps an audit of fired timers. Nil disables it.
	Storage *StorageConfig `json:"storage,omitempty"`

	Jobs []JobConfig `json:"jobs,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the timer worker.
//
// All durations are Go duration strings (e.g. "1ms", "50ms").
//
// Defaults (when fields are omitted/zero):
//   - idle_poll: "50ms"
//   - min_sleep: "1ms"
//   - panic_log_per_sec: 1
//   - timezone: Local
type SchedulerConfig struct {
	IdlePoll       string `json:"idle_poll,omitempty"`
	MinSleep       string `json:"min_sleep,omitempty"`
	PanicLogPerSec int    `json:"panic_log_per_sec,omitempty"`

	// Timezone used to evaluate cron job schedules.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the fire history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tickd.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retain bounds kept history rows; 0 means 1000.
	Retain int `json:"retain,omitempty"`
}

// JobConfig declares a timer registered at startup.
//
// Schedule accepts any timer schedule string ("30s", "01:30", "*/5 * * * *",
// "@hourly"). With Once set, Schedule must be a plain Go duration and the job
// fires a single time after that delay.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Message  string `json:"message,omitempty"`
	Once     bool   `json:"once,omitempty"`
}

// Key identifies a job definition; any field change yields a new key.
func (j JobConfig) Key() string {
	once := "0"
	if j.Once {
		once = "1"
	}
	return strings.Join([]string{strings.TrimSpace(j.Name), strings.TrimSpace(j.Schedule), j.Message, once}, "\x1f")
}

// DebugConfig controls the diagnostics HTTP server (health, timer snapshot,
// fire history, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}
