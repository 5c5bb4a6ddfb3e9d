package storage

import (
	"context"
	"fmt"
	"strings"

	logx "tickd/pkg/logx"
)

// Store is the fire history API.
type Store interface {
	AppendFire(ctx context.Context, r FireRecord) error
	// RecentFires returns up to limit records, newest first.
	RecentFires(ctx context.Context, limit int) ([]FireRecord, error)
	Close() error
}

// Open returns the store for cfg.Driver, or (nil, nil) when history is
// turned off ("" or "none").
func Open(cfg Config, log logx.Logger) (Store, error) {
	var open func(Config, logx.Logger) (Store, error)
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		open = openFile
	case "sqlite", "sqlite3":
		open = openSQLite
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return open(cfg, log.Named("storage").With(logx.String("driver", cfg.Driver)))
}
