package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader holds the current rule set and hot-reloads it when the rules file
// changes. A reload that fails to parse keeps the previous set.
type Loader struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[RuleSet]
}

// NewLoader reads and compiles the rules file at path. The initial load must
// succeed; later reloads may fail without losing the last good set.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	l := &Loader{path: path, logger: logger}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Rules returns the current rule set.
func (l *Loader) Rules() *RuleSet {
	return l.current.Load()
}

func (l *Loader) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("Loader.reload: %w", err)
	}
	set, err := ParseRules(data)
	if err != nil {
		return fmt.Errorf("Loader.reload: %w", err)
	}
	l.current.Store(set)
	l.logger.Info("routing rules loaded",
		zap.String("path", l.path),
		zap.Int("rules", set.Len()))
	return nil
}

// Watch blocks until ctx is done, reloading the rules file on change. The
// watch is on the parent directory so editors that replace the file by
// rename still trigger a reload.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("Loader.Watch: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("Loader.Watch: %w", err)
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				l.logger.Error("routing rules reload failed, keeping previous set",
					zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}
