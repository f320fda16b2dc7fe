package usbbus

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// watcher reports creation and removal of usbfs nodes. It watches devRoot
// for bus directories and every bus directory for device nodes.
type watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	handler func(path string, created bool)

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newWatcher(root string, logger *slog.Logger, handler func(string, bool)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &watcher{
		root:    root,
		fsw:     fsw,
		logger:  logger,
		handler: handler,
		done:    make(chan struct{}),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addBus(filepath.Join(root, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *watcher) addBus(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch usb bus directory", "dir", dir, "error", err)
	}
}

func (w *watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	if filepath.Dir(ev.Name) == filepath.Clean(w.root) {
		// A bus directory: a new root hub was registered.
		if ev.Has(fsnotify.Create) {
			w.addBus(ev.Name)
		}
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		w.handler(ev.Name, true)
	case ev.Has(fsnotify.Remove):
		w.handler(ev.Name, false)
	}
}

// Close stops the event loop and releases the inotify descriptor.
func (w *watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		if errors.Is(err, fsnotify.ErrClosed) {
			err = nil
		}
	})
	return err
}
