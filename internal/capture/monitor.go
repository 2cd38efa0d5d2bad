package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// fallbackPoll backs up fsnotify: /dev/input entries are created by udev
// and a rename or a watch hiccup can slip past the watcher.
const fallbackPoll = time.Second

// PathMonitor tracks the presence of one device node by watching its parent
// directory. It implements Monitor for the capture loop.
type PathMonitor struct {
	path    string
	watcher *fsnotify.Watcher
	poll    time.Duration
}

// NewPathMonitor starts watching the directory containing path. The
// directory itself must exist (/dev/input does for the lifetime of the
// host); only the node is expected to come and go.
func NewPathMonitor(path string) (*PathMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("capture: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("capture: watch %s: %w", filepath.Dir(path), err)
	}
	return &PathMonitor{
		path:    path,
		watcher: watcher,
		poll:    fallbackPoll,
	}, nil
}

// Present reports whether the node currently exists.
func (m *PathMonitor) Present() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Await returns once the node exists, or when ctx is done. Any create in
// the watched directory triggers a re-check rather than an exact name
// match, because by-id symlinks can appear via rename.
func (m *PathMonitor) Await(ctx context.Context) error {
	if m.Present() {
		return nil
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.watcher.Events:
			if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 && m.Present() {
				return nil
			}
		case err := <-m.watcher.Errors:
			klog.V(4).Infof("watcher error for %s: %v", m.path, err)
		case <-ticker.C:
			if m.Present() {
				return nil
			}
		}
	}
}

// Close releases the underlying watcher.
func (m *PathMonitor) Close() error {
	return m.watcher.Close()
}
