package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Service monitors inbox directories for new documents.
type Service struct {
	paths []string
	exts  map[string]bool

	mu   sync.Mutex
	seen map[string]time.Time // path -> mod time when last handed out
}

type found struct {
	path string
	mod  time.Time
}

// NewService creates a monitor for paths that reports files whose
// extension is in exts (".txt", ".pdf", ...). Documents already present
// are treated as handled; anything that appears later is new whatever its
// modification time.
func NewService(paths, exts []string) (*Service, error) {
	if len(paths) == 0 {
		return nil, errors.New("watcher: no directories to watch")
	}

	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			slog.Warn("Watcher: Directory does not exist", "path", path)
		}
	}

	s := &Service{
		paths: paths,
		exts:  make(map[string]bool, len(exts)),
		seen:  make(map[string]time.Time),
	}
	for _, e := range exts {
		s.exts[strings.ToLower(e)] = true
	}
	for _, f := range s.scan() {
		s.seen[f.path] = f.mod
	}
	return s, nil
}

// CheckNew returns the documents that appeared or changed since they were
// last seen, oldest first.
func (s *Service) CheckNew() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []found
	for _, f := range s.scan() {
		if last, ok := s.seen[f.path]; ok && !f.mod.After(last) {
			continue
		}
		fresh = append(fresh, f)
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].mod.Equal(fresh[j].mod) {
			return fresh[i].path < fresh[j].path
		}
		return fresh[i].mod.Before(fresh[j].mod)
	})

	out := make([]string, len(fresh))
	for i, f := range fresh {
		s.seen[f.path] = f.mod
		out[i] = f.path
		slog.Info("Watcher: New document detected", "file", filepath.Base(f.path), "dir", filepath.Dir(f.path))
	}
	return out
}

// scan lists the supported documents currently in the watched directories.
func (s *Service) scan() []found {
	var files []found
	for _, dir := range s.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if strings.HasPrefix(name, ".") || !s.exts[strings.ToLower(filepath.Ext(name))] {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				continue
			}
			files = append(files, found{path: filepath.Join(dir, name), mod: info.ModTime()})
		}
	}
	return files
}

// Run polls every interval and calls handle for each new document until
// ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration, handle func(ctx context.Context, path string)) error {
	if interval <= 0 {
		return fmt.Errorf("watcher: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, path := range s.CheckNew() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			handle(ctx, path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
