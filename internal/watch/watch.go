// Package watch re-runs unification for proxy directories whose files change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Handler receives the proxy directory names (relative to the watched source
// dir) that changed during one debounce window, sorted.
type Handler func(ctx context.Context, proxies []string)

type Watcher struct {
	root     string
	debounce time.Duration
	handle   Handler
	log      *zap.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start watches sourceDir recursively until Close is called or ctx ends.
func Start(ctx context.Context, sourceDir string, debounce time.Duration, handle Handler, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	root := filepath.Clean(sourceDir)
	if err := addRecursive(fsw, root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		root:     root,
		debounce: debounce,
		handle:   handle,
		log:      log,
		fsw:      fsw,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	log.Info("watching source dir", zap.String("dir", root), zap.Duration("debounce", debounce))
	return w, nil
}

// Done is closed once the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		<-w.done
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	pending := map[string]struct{}{}
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			names := make([]string, 0, len(pending))
			for n := range pending {
				names = append(names, n)
			}
			sort.Strings(names)
			clear(pending)
			w.log.Info("source change detected", zap.Strings("proxies", names))
			w.handle(ctx, names)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Has(fsnotify.Create) {
				if st, err := os.Stat(evt.Name); err == nil && st.IsDir() {
					if err := addRecursive(w.fsw, evt.Name); err != nil {
						w.log.Warn("add watch failed", zap.String("path", evt.Name), zap.Error(err))
					}
				}
			}
			if !relevant(evt) {
				continue
			}
			proxy := proxyOf(w.root, evt.Name)
			if proxy == "" {
				continue
			}
			pending[proxy] = struct{}{}
			timer.Reset(w.debounce)
		}
	}
}

func relevant(evt fsnotify.Event) bool {
	if strings.TrimSpace(evt.Name) == "" {
		return false
	}
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
		return false
	}
	return !strings.HasPrefix(filepath.Base(evt.Name), ".")
}

// proxyOf maps a changed path to the proxy directory it belongs to, or "" when
// the path is the root itself, outside it, or a hidden entry.
func proxyOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(first, ".") {
		return ""
	}
	return first
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fsw.Add(path)
	})
}
