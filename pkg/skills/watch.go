package skills

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/quillhq/quill/pkg/logger"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watcher re-runs discovery when skill directories change.
type Watcher struct {
	discovery *Discovery
	onChange  func(map[string]*Skill)
	fs        *fsnotify.Watcher
}

// NewWatcher watches the discovery's directories and invokes onChange with a
// fresh skill map after each change. Directories that do not exist yet are
// skipped.
func NewWatcher(discovery *Discovery, onChange func(map[string]*Skill)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filesystem watcher")
	}

	watched := 0
	for _, dir := range discovery.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fs.Add(dir); err != nil {
			fs.Close()
			return nil, errors.Wrapf(err, "failed to watch %s", dir)
		}
		watched++
	}
	if watched == 0 {
		fs.Close()
		return nil, errors.New("no skill directories exist to watch")
	}

	return &Watcher{discovery: discovery, onChange: onChange, fs: fs}, nil
}

// Start runs the watch loop until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		var debounce *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-w.fs.Events:
				if !ok {
					return
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			case <-fire:
				w.onChange(w.discovery.Discover())
			case err, ok := <-w.fs.Errors:
				if !ok {
					return
				}
				logger.G(ctx).WithError(err).Warn("skill watcher error")
			}
		}
	}()
}

// Stop closes the underlying watcher, ending the watch loop.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}
