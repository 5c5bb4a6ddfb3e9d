package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tickd/internal/timer"
)

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks a parsed config. It is used on initial load and as the
// reload validator, so a broken edit never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var errs []error

	if _, err := ParseDurationField("scheduler.idle_poll", cfg.Scheduler.IdlePoll); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.min_sleep", cfg.Scheduler.MinSleep); err != nil {
		errs = append(errs, err)
	}
	if cfg.Scheduler.PanicLogPerSec < 0 {
		errs = append(errs, fmt.Errorf("scheduler.panic_log_per_sec: must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if s.Retain < 0 {
			errs = append(errs, fmt.Errorf("storage.retain: must be >= 0, got %d", s.Retain))
		}
	}

	if _, err := ParseDurationField("debug.read_timeout", cfg.Debug.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("debug.idle_timeout", cfg.Debug.IdleTimeout); err != nil {
		errs = append(errs, err)
	}

	seen := map[string]struct{}{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: duplicate job %q", path, name))
		}
		seen[name] = struct{}{}

		if j.Once {
			d, err := time.ParseDuration(strings.TrimSpace(j.Schedule))
			if err != nil || d < 0 {
				errs = append(errs, fmt.Errorf("%s.schedule: once jobs need a non-negative duration, got %q", path, j.Schedule))
			}
			continue
		}
		if _, err := timer.ParseSchedule(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// TimerConfig converts the scheduler section to the worker configuration.
// The config must have passed Validate.
func (c SchedulerConfig) TimerConfig() timer.Config {
	idle, _ := ParseDurationField("scheduler.idle_poll", c.IdlePoll)
	minSleep, _ := ParseDurationField("scheduler.min_sleep", c.MinSleep)
	return timer.Config{
		IdlePoll:       idle,
		MinSleep:       minSleep,
		PanicLogPerSec: c.PanicLogPerSec,
		Timezone:       strings.TrimSpace(c.Timezone),
	}
}
