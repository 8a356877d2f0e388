// Package watch follows a local HTML file and reports each settled
// revision as a freshly parsed tree.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// DefaultDebounce is how long the file must stay quiet before it is re-read.
const DefaultDebounce = 250 * time.Millisecond

// Watcher re-parses Path after it changes and hands the tree to OnChange.
type Watcher struct {
	Path     string
	Debounce time.Duration
	OnChange func(root *html.Node)

	fsw *fsnotify.Watcher
}

// New creates a watcher on the directory holding path. Editors often
// replace files by rename, so the directory is watched, not the file.
func New(path string, onChange func(root *html.Node)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return &Watcher{Path: abs, Debounce: DefaultDebounce, OnChange: onChange, fsw: fsw}, nil
}

// Run blocks until ctx is done or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	log.Info().Str("path", w.Path).Dur("debounce", debounce).Msg("watching document")

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				log.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("document change detected")
				timer.Reset(debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		case <-timer.C:
			w.reload()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(ev.Name) == w.Path
}

func (w *Watcher) reload() {
	f, err := os.Open(w.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", w.Path).Msg("document unreadable")
		return
	}
	defer f.Close()
	root, err := html.Parse(f)
	if err != nil {
		log.Warn().Err(err).Str("path", w.Path).Msg("document parse failed")
		return
	}
	log.Debug().Str("path", w.Path).Msg("document reloaded")
	if w.OnChange != nil {
		w.OnChange(root)
	}
}
