package config

import (
	"sort"
	"strings"

	logx "tickd/pkg/logx"
)

// JobDiff lists job names by how they differ between two configs.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool { return len(d.Added)+len(d.Removed)+len(d.Changed) == 0 }

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the job diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(oSch.IdlePoll) != strings.TrimSpace(nSch.IdlePoll) ||
		strings.TrimSpace(oSch.MinSleep) != strings.TrimSpace(nSch.MinSleep) ||
		oSch.PanicLogPerSec != nSch.PanicLogPerSec ||
		strings.TrimSpace(oSch.Timezone) != strings.TrimSpace(nSch.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.idle_poll", strings.TrimSpace(nSch.IdlePoll)),
			logx.String("scheduler.min_sleep", strings.TrimSpace(nSch.MinSleep)),
			logx.Int("scheduler.panic_log_per_sec", nSch.PanicLogPerSec),
			logx.String("scheduler.timezone", strings.TrimSpace(nSch.Timezone)),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		oS.Retain != nS.Retain {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	// Debug (never log token)
	oD, nD := oldCfg.Debug, newCfg.Debug
	if oD.Enabled != nD.Enabled ||
		strings.TrimSpace(oD.Addr) != strings.TrimSpace(nD.Addr) ||
		oD.AllowInsecure != nD.AllowInsecure ||
		strings.TrimSpace(oD.ReadTimeout) != strings.TrimSpace(nD.ReadTimeout) ||
		strings.TrimSpace(oD.IdleTimeout) != strings.TrimSpace(nD.IdleTimeout) ||
		oD.Token != nD.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(nD.Token) != ""),
		)
	}

	jd := DiffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jd.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(jd.Added)),
			logx.Int("jobs.removed", len(jd.Removed)),
			logx.Int("jobs.changed", len(jd.Changed)),
			logx.Int("jobs.total", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jd
}

// DiffJobs compares job lists by name.
func DiffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	oldM := indexJobs(oldJobs)
	newM := indexJobs(newJobs)

	var d JobDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case o.Key() != n.Key():
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

func indexJobs(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		m[strings.TrimSpace(j.Name)] = j
	}
	return m
}
