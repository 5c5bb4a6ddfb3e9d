package config

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "tickd/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	watchRetryMin  = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

var errWatcherClosed = errors.New("config: fsnotify watcher closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// The directory is watched rather than the file so atomic-rename saves are
// seen. A broken watcher is rebuilt after a jittered, growing delay.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	d := newDebouncer(reloadDebounce, func() { m.reload(ctx) })
	defer d.stop()

	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, name, d, func() { retry = watchRetryMin })
		if ctx.Err() != nil {
			break
		}
		wait := retry + time.Duration(rand.Int63n(int64(retry/2 + 1)))
		retry = min(2*retry, watchRetryMax)
		m.log.Warn("config watcher failed; retrying", logx.String("dir", dir), logx.Duration("in", wait), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, name string, d *debouncer, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&relevant == 0 || !strings.EqualFold(filepath.Base(ev.Name), name) {
				continue
			}
			m.log.Debug("config file event", logx.String("op", ev.Op.String()))
			d.trigger()
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// Events were lost; one reload catches up.
				m.log.Warn("config watch overflow", logx.Err(err))
				d.trigger()
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// debouncer runs fn once after the last trigger in a burst.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil {
		d.t = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.t.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
