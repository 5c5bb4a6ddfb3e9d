package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Retain bounds the number of records kept (sqlite) or cached (file).
	// 0 means 1000.
	Retain int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return 1000
	}
	return c.Retain
}

// FireRecord describes one callback execution.
// Keep it compact and schema-stable.
type FireRecord struct {
	At       time.Time `json:"at"`
	TimerID  uint64    `json:"timer_id"`
	Job      string    `json:"job,omitempty"`
	Kind     string    `json:"kind"`
	Deadline time.Time `json:"deadline"`
	LateMS   int64     `json:"late_ms"`
	TookMS   int64     `json:"took_ms"`
	Error    string    `json:"error,omitempty"`
}
