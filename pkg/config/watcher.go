package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// Watcher reloads the configuration file on change and hands valid
// configurations to a callback. Invalid intermediate states are logged
// and skipped; the previous configuration stays active.
type Watcher struct {
	path     string
	onChange func(*Config)
	log      *telemetry.Logger
	fs       *fsnotify.Watcher
}

// NewWatcher creates a watcher for one configuration file.
func NewWatcher(path string, log *telemetry.Logger, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors and config mounts
	// replace the file, which drops a direct file watch.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}

	if log == nil {
		log = telemetry.NopLogger()
	}

	return &Watcher{
		path:     path,
		onChange: onChange,
		log:      log.NewComponentLogger("config-watcher"),
		fs:       fs,
	}, nil
}

// Run processes file events until the context is done. Rapid event
// bursts are debounced before reloading.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("configuration reload skipped")
				continue
			}
			w.log.Info("configuration reloaded")
			w.onChange(cfg)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("configuration watch error")
		}
	}
}
