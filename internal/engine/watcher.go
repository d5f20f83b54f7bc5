package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/conjurehq/conjure/internal/logging"
)

// watcher registers commands from Lua files in a local directory, for
// development setups. Files are named <tenant>__<name>.lua; writing one
// registers the command, deleting one removes it.
type watcher struct {
	engine *Engine
	fs     *fsnotify.Watcher
	done   chan struct{}
}

func newWatcher(e *Engine, dir string) (*watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &watcher{engine: e, fs: fs, done: make(chan struct{})}

	// Register whatever is already there.
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				w.load(filepath.Join(dir, entry.Name()))
			}
		}
	}

	go w.loop()
	logging.Info().Str("dir", dir).Msg("watching command directory")
	return w, nil
}

func (w *watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			switch {
			case ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create):
				w.load(ev.Name)
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				w.unload(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Warn().Err(err).Msg("command watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *watcher) load(path string) {
	tenant, name, ok := splitCommandFile(path)
	if !ok {
		return
	}
	source, err := os.ReadFile(path)
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("could not read command file")
		return
	}

	if _, err := w.engine.Register(context.Background(), tenant, name, string(source), "loaded from "+filepath.Base(path)); err != nil {
		logging.Warn().Err(err).Str("tenant", tenant).Str("command", name).Msg("command file rejected")
		return
	}
	logging.Info().Str("tenant", tenant).Str("command", name).Msg("registered command from file")
}

func (w *watcher) unload(path string) {
	tenant, name, ok := splitCommandFile(path)
	if !ok {
		return
	}
	if _, err := w.engine.Remove(context.Background(), tenant, name); err != nil {
		return
	}
	logging.Info().Str("tenant", tenant).Str("command", name).Msg("removed command for deleted file")
}

// splitCommandFile parses <tenant>__<name>.lua out of a path.
func splitCommandFile(path string) (tenant, name string, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".lua") {
		return "", "", false
	}
	base = strings.TrimSuffix(base, ".lua")
	tenant, name, found := strings.Cut(base, "__")
	if !found || tenant == "" || name == "" {
		return "", "", false
	}
	return tenant, name, true
}

func (w *watcher) close() {
	close(w.done)
	w.fs.Close()
}
