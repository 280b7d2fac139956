// Package watcher mirrors a directory on disk into a project tree. It
// seeds the tree from the directory once, then keeps the tree in sync as
// files change, grouping rapid changes with a debouncer.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// FileFilter reports whether a disk path should be mirrored.
type FileFilter func(path string) bool

// ChangeEvent is a debounced disk change.
type ChangeEvent struct {
	Op   fsnotify.Op
	Path string
}

// DirWatcher syncs a root directory into a vfs.Tree.
type DirWatcher struct {
	root      string
	tree      *vfs.Tree
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	filters   []FileFilter
	logger    logging.Logger
	mutex     sync.RWMutex
}

type debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// New creates a watcher rooted at dir that mirrors into tree. Default
// filters skip hidden directories, node_modules, and non-source files.
func New(dir string, tree *vfs.Tree, debounce time.Duration, logger logging.Logger) (*DirWatcher, error) {
	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &DirWatcher{
		root:    absRoot,
		tree:    tree,
		watcher: fsw,
		debouncer: &debouncer{
			delay:   debounce,
			events:  make(chan ChangeEvent, 100),
			output:  make(chan []ChangeEvent, 10),
		},
		filters: []FileFilter{NoHiddenFilter, NoNodeModulesFilter, SourceFilter},
		logger:  logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter on top of the defaults.
func (w *DirWatcher) AddFilter(filter FileFilter) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.filters = append(w.filters, filter)
}

// Seed walks the root directory and loads every matching file into the
// tree. Call before Start so the first preview run sees the full project.
func (w *DirWatcher) Seed(ctx context.Context) error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if info.IsDir() {
			if path != w.root && !w.allowed(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !w.allowed(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn(ctx, err, "skipping unreadable file", "path", path)
			return nil
		}
		return w.tree.CreateFile(w.treePath(path), string(data))
	})
}

// Start begins watching the root recursively and applying changes to the
// tree until ctx is cancelled.
func (w *DirWatcher) Start(ctx context.Context) error {
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != w.root && !w.allowed(path) {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	go w.debouncer.run(ctx)
	go w.applyLoop(ctx)
	go w.watchLoop(ctx)

	w.logger.Info(ctx, "watching directory", "root", w.root)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *DirWatcher) Stop() error {
	w.debouncer.mutex.Lock()
	if w.debouncer.timer != nil {
		w.debouncer.timer.Stop()
	}
	w.debouncer.mutex.Unlock()
	return w.watcher.Close()
}

func (w *DirWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "watch error")
		}
	}
}

func (w *DirWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// New directories need their own watches before any file inside
	// them produces events.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.allowed(event.Name) {
				if err := w.watcher.Add(event.Name); err != nil {
					w.logger.Warn(ctx, err, "watch new directory", "path", event.Name)
				}
			}
			return
		}
	}

	if !w.allowed(event.Name) {
		return
	}

	select {
	case w.debouncer.events <- ChangeEvent{Op: event.Op, Path: event.Name}:
	default:
	}
}

func (w *DirWatcher) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-w.debouncer.output:
			for _, event := range events {
				w.apply(ctx, event)
			}
		}
	}
}

func (w *DirWatcher) apply(ctx context.Context, event ChangeEvent) {
	treePath := w.treePath(event.Path)

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		if _, err := os.Stat(event.Path); os.IsNotExist(err) {
			if err := w.tree.Delete(treePath); err != nil {
				w.logger.Debug(ctx, "delete after disk removal", "path", treePath, "error", err)
			}
			return
		}
	}

	data, err := os.ReadFile(event.Path)
	if err != nil {
		w.logger.Warn(ctx, err, "read changed file", "path", event.Path)
		return
	}
	if err := w.tree.CreateFile(treePath, string(data)); err != nil {
		w.logger.Warn(ctx, err, "mirror changed file", "path", treePath)
	}
}

func (w *DirWatcher) allowed(path string) bool {
	w.mutex.RLock()
	filters := w.filters
	w.mutex.RUnlock()

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return !hiddenOrVendored(rel)
	}
	for _, filter := range filters {
		if !filter(rel) {
			return false
		}
	}
	return true
}

// treePath converts an absolute disk path to its project-absolute form.
func (w *DirWatcher) treePath(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return vfs.Normalize("/" + filepath.ToSlash(rel))
}

func (d *debouncer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.add(event)
		}
	}
}

func (d *debouncer) add(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	// Keep the last event per path, preserving first-seen order.
	last := make(map[string]int, len(d.pending))
	for i, event := range d.pending {
		last[event.Path] = i
	}
	events := make([]ChangeEvent, 0, len(last))
	for i, event := range d.pending {
		if last[event.Path] == i {
			events = append(events, event)
		}
	}

	select {
	case d.output <- events:
	default:
	}

	d.pending = d.pending[:0]
}

func hiddenOrVendored(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == "node_modules" || (strings.HasPrefix(part, ".") && part != "." && part != "..") {
			return true
		}
	}
	return false
}

// SourceFilter keeps files the preview pipeline understands.
func SourceFilter(rel string) bool {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".tsx", ".jsx", ".ts", ".js", ".mjs", ".css", ".json", ".yml", ".yaml", ".svg", ".html", ".md", ".txt":
		return true
	}
	return false
}

// NoHiddenFilter skips dotfiles and files inside hidden directories.
func NoHiddenFilter(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return false
		}
	}
	return true
}

// NoNodeModulesFilter skips anything under node_modules.
func NoNodeModulesFilter(rel string) bool {
	return !strings.Contains("/"+filepath.ToSlash(rel)+"/", "/node_modules/")
}
