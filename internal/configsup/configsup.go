// Package configsup hot-reloads hook configuration: it watches the
// filesystem directory containing a ProxyDescriptor's hook_config file
// and atomically republishes its bytes whenever the file changes,
// generalizing src/proxy.rs's listen function's notify::watcher block
// (a 1-second-debounced watch over config_path) onto fsnotify.
package configsup

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/tglog"
)

const debounce = time.Second

// Snapshot is an atomically-swappable view of hook_config's current
// bytes; readers call Bytes for a stable per-invocation copy.
type Snapshot struct {
	v atomic.Value // []byte
}

// NewSnapshot seeds a Snapshot with initial bytes (possibly nil, meaning
// absent config).
func NewSnapshot(initial []byte) *Snapshot {
	s := &Snapshot{}
	s.v.Store(initial)
	return s
}

// Bytes returns the current snapshot contents. The returned slice must
// not be mutated by the caller.
func (s *Snapshot) Bytes() []byte {
	v, _ := s.v.Load().([]byte)
	return v
}

func (s *Snapshot) set(b []byte) { s.v.Store(b) }

// Supervisor watches one hook_config path and republishes its contents
// into the associated Snapshot on write/create events, debounced so a
// burst of filesystem events from one editor save collapses into a
// single read.
type Supervisor struct {
	path     string
	snapshot *Snapshot
	log      *zap.Logger
}

// Watch starts watching path (loading its initial contents into the
// returned Snapshot) and returns a function that stops the watch when
// called. Events for files other than path are ignored; read failures
// are logged and the previous value is retained.
func Watch(ctx context.Context, path string) (*Snapshot, func(), error) {
	var initial []byte
	if data, err := os.ReadFile(path); err == nil {
		initial = data
	}
	snapshot := NewSnapshot(initial)

	if path == "" {
		return snapshot, func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	sup := &Supervisor{path: path, snapshot: snapshot, log: tglog.Named("configsup")}

	stopCh := make(chan struct{})
	go sup.run(watcher, stopCh)

	stop := func() {
		close(stopCh)
		watcher.Close()
	}
	return snapshot, stop, nil
}

func (s *Supervisor) run(watcher *fsnotify.Watcher, stop <-chan struct{}) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("watcher error", zap.Error(err))
		}
	}
}

func (s *Supervisor) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Error("failed to read updated hook config, keeping previous value",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	s.snapshot.set(data)
	s.log.Info("reloaded hook config", zap.String("path", s.path), zap.Int("bytes", len(data)))
}
