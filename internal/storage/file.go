package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tickd/pkg/logx"
)

// fileStore appends records to a JSON Lines file and keeps the newest
// Retain records in a ring for RecentFires.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	ring []FireRecord
	head int // next write position
	full bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, ring: make([]FireRecord, cfg.retain())}
	n, err := s.replay(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("fire history replay failed", logx.String("path", path), logx.Err(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	log.Debug("fire history opened", logx.String("path", path), logx.Int("replayed", n))
	return s, nil
}

// replay loads the tail of an existing file into the ring. Corrupt lines
// (e.g. a torn final write) are skipped.
func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r FireRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.pushLocked(r)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) pushLocked(r FireRecord) {
	s.ring[s.head] = r
	s.head = (s.head + 1) % len(s.ring)
	if s.head == 0 {
		s.full = true
	}
}

func (s *fileStore) AppendFire(ctx context.Context, r FireRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	// One flush per record keeps the file readable while running.
	if err := s.w.Flush(); err != nil {
		return err
	}
	s.pushLocked(r)
	return nil
}

func (s *fileStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	size := s.head
	if s.full {
		size = len(s.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]FireRecord, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.head - i + len(s.ring)) % len(s.ring)
		out = append(out, s.ring[idx])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	s.w = nil
	return err
}
