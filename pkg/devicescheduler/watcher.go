package devicescheduler

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads a Registry whenever its resource-config file is written.
// fsnotify is driven directly rather than through viper, since the
// resource-config format is whitespace-delimited, not YAML.
type Watcher struct {
	registry *Registry
	dir      string
	filename string
	log      *logrus.Logger
}

// NewWatcher builds a Watcher for the given directory/filename pair.
func NewWatcher(registry *Registry, dir, filename string, log *logrus.Logger) *Watcher {
	return &Watcher{registry: registry, dir: dir, filename: filename, log: log}
}

// Run watches the configured directory until stopCh closes, reloading the
// registry whenever the watched file is written to. A reload failure is
// logged as a warning and the prior registry state is left intact
// (spec.md §4.1/§7); only the initial load (done separately by the caller
// via Registry.LoadOrFatal) is fatal.
func (w *Watcher) Run(stopCh <-chan struct{}) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	w.log.Infof("watching %q for changes to %q", w.dir, w.filename)

	for {
		select {
		case <-stopCh:
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("config watcher error: %v", err)
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != w.filename {
				continue
			}
			w.log.Infof("resource config %q changed, reloading clients", event.Name)
			path := ConfigPath(w.dir, w.filename)
			if err := w.registry.Load(path); err != nil {
				w.log.Warnf("failed to reload resource config %s: %v, keeping prior registry", path, err)
				continue
			}
			w.log.Infof("reloaded resource config from %s", path)
		}
	}
}
