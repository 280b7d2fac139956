// Package pipeline drives the transform → resolve → assemble sequence over
// a project tree. It subscribes to tree change events and coalesces rapid
// successive mutations into a single run: only the latest complete tree
// state feeds the next run, intermediate states are never replayed. A new
// run supersedes the visible output of the prior one and releases its
// module handles.
package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/tinkerbench/sketch/internal/assemble"
	"github.com/tinkerbench/sketch/internal/importmap"
	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/transform"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// Result is the published output of one pipeline run.
type Result struct {
	RunID    uint64
	Revision uint64
	Document string
	Build    *importmap.Build
	Failures []assemble.Failure
	Styles   []assemble.Style
	Entry    string
	Duration time.Duration
}

// Callback is invoked after each completed run.
type Callback func(Result)

// Options configures a Pipeline.
type Options struct {
	// Workers bounds the per-run transform worker pool. Zero means
	// GOMAXPROCS. Transformation of independent files is parallel; the
	// results are identical to a serial run.
	Workers int
	// Debounce is the quiet period that groups a burst of tree events
	// into one run.
	Debounce time.Duration

	Transformer *transform.Transformer
	Builder     *importmap.Builder
	Assembler   *assemble.Assembler
	Logger      logging.Logger
}

// Pipeline owns the compile loop of one project tree.
type Pipeline struct {
	tree        *vfs.Tree
	transformer *transform.Transformer
	builder     *importmap.Builder
	assembler   *assemble.Assembler
	logger      logging.Logger
	workers     int
	debounce    time.Duration

	callbackMutex sync.RWMutex
	callbacks     []Callback

	currentMutex sync.RWMutex
	current      *Result

	runID  uint64
	kick   chan struct{}
	events <-chan vfs.Event
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New creates a pipeline over the tree. Call Start to begin reacting to
// tree events, or RunOnce for a single synchronous pass.
func New(tree *vfs.Tree, opts Options) *Pipeline {
	if opts.Transformer == nil {
		opts.Transformer = transform.New("")
	}
	if opts.Builder == nil {
		opts.Builder = importmap.NewBuilder(importmap.Options{})
	}
	if opts.Assembler == nil {
		opts.Assembler = assemble.New(assemble.Options{})
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}

	return &Pipeline{
		tree:        tree,
		transformer: opts.Transformer,
		builder:     opts.Builder,
		assembler:   opts.Assembler,
		logger:      opts.Logger.WithComponent("pipeline"),
		workers:     workers,
		debounce:    debounce,
		kick:        make(chan struct{}, 1),
	}
}

// AddCallback registers a completion callback for future runs.
func (p *Pipeline) AddCallback(callback Callback) {
	p.callbackMutex.Lock()
	defer p.callbackMutex.Unlock()
	p.callbacks = append(p.callbacks, callback)
}

// Current returns the latest published result.
func (p *Pipeline) Current() (Result, bool) {
	p.currentMutex.RLock()
	defer p.currentMutex.RUnlock()

	if p.current == nil {
		return Result{}, false
	}
	return *p.current, true
}

// Module dereferences a loadable resource handle. Only handles minted by
// the current run resolve; superseded handles are gone.
func (p *Pipeline) Module(servePath string) (*importmap.Module, bool) {
	p.currentMutex.RLock()
	defer p.currentMutex.RUnlock()

	if p.current == nil || p.current.Build == nil {
		return nil, false
	}
	module, ok := p.current.Build.Modules[servePath]
	return module, ok
}

// Start subscribes to tree events and runs until the context is cancelled
// or Stop is called. An initial run is performed immediately.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.events = p.tree.Watch()

	p.done.Add(2)
	go p.watchLoop(ctx)
	go p.runLoop(ctx)

	// Publish a document before the first mutation arrives.
	p.trigger()
}

// Stop halts the loops and waits for them to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.done.Wait()
	if p.events != nil {
		p.tree.Unwatch(p.events)
	}
}

func (p *Pipeline) trigger() {
	select {
	case p.kick <- struct{}{}:
	default:
		// A run is already pending; it will pick up the latest state.
	}
}

// watchLoop debounces tree events into triggers.
func (p *Pipeline) watchLoop(ctx context.Context) {
	defer p.done.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-p.events:
			if !ok {
				return
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(p.debounce, p.trigger)
		}
	}
}

// runLoop executes one run per trigger; triggers arriving mid-run coalesce
// into a single follow-up run over the then-current tree.
func (p *Pipeline) runLoop(ctx context.Context) {
	defer p.done.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			result := p.RunOnce(ctx)
			p.notify(result)
		}
	}
}

func (p *Pipeline) notify(result Result) {
	p.callbackMutex.RLock()
	callbacks := make([]Callback, len(p.callbacks))
	copy(callbacks, p.callbacks)
	p.callbackMutex.RUnlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

// RunOnce executes one complete pipeline pass over the current tree state
// and publishes the result, superseding the prior run's handles.
func (p *Pipeline) RunOnce(ctx context.Context) Result {
	start := time.Now()

	p.currentMutex.Lock()
	p.runID++
	runID := p.runID
	p.currentMutex.Unlock()

	revision := p.tree.Revision()
	snapshot := p.snapshot()

	results := p.transformAll(ctx, snapshot)

	build := p.builder.Build(runID, results)

	styles := p.collectStyles(snapshot, results)
	failures := collectFailures(results)
	entry := p.assembler.FindEntry(func(path string) bool {
		_, ok := snapshot[path]
		return ok
	})

	document := p.assembler.Document(assemble.Input{
		Build:     build,
		Styles:    styles,
		Failures:  failures,
		EntryPath: entry,
	})

	result := Result{
		RunID:    runID,
		Revision: revision,
		Document: document,
		Build:    build,
		Failures: failures,
		Styles:   styles,
		Entry:    entry,
		Duration: time.Since(start),
	}

	p.currentMutex.Lock()
	// Replacing the current result releases the superseded run's handles.
	p.current = &result
	p.currentMutex.Unlock()

	p.logger.Debug(ctx, "pipeline run complete",
		"run", runID,
		"revision", revision,
		"files", len(snapshot),
		"failures", len(failures),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

// snapshot captures every file's content for one run.
func (p *Pipeline) snapshot() map[string]string {
	files := make(map[string]string)
	for info := range p.tree.Files(vfs.Root, true) {
		if content, ok := p.tree.ReadFile(info.Path); ok {
			files[info.Path] = content
		}
	}
	return files
}

// transformAll compiles every file with a bounded worker pool.
func (p *Pipeline) transformAll(ctx context.Context, snapshot map[string]string) []transform.Result {
	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	tasks := make(chan string)
	out := make([]transform.Result, len(paths))
	index := make(map[string]int, len(paths))
	for i, path := range paths {
		index[path] = i
	}

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range tasks {
				out[index[path]] = p.transformer.File(path, snapshot[path])
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, path := range paths {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- path:
			dispatched++
		}
	}
	close(tasks)
	wg.Wait()

	if dispatched < len(paths) {
		// Drop the slots of undispatched paths so the builder never sees
		// zero-valued results.
		filtered := make([]transform.Result, 0, dispatched)
		for _, r := range out {
			if r.Path != "" {
				filtered = append(filtered, r)
			}
		}
		return filtered
	}
	return out
}

// collectStyles resolves every stripped stylesheet import against the
// snapshot and gathers the referenced text, deduplicated, in stable order.
func (p *Pipeline) collectStyles(snapshot map[string]string, results []transform.Result) []assemble.Style {
	seen := make(map[string]bool)
	var styles []assemble.Style

	ordered := make([]transform.Result, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	for _, r := range ordered {
		for _, spec := range r.StyleImports {
			path := resolveStylePath(r.Path, spec)
			if seen[path] {
				continue
			}
			seen[path] = true

			if content, ok := snapshot[path]; ok {
				styles = append(styles, assemble.Style{Path: path, Content: content})
			}
		}
	}
	return styles
}

func resolveStylePath(importer, spec string) string {
	switch {
	case len(spec) > 1 && spec[:2] == "@/":
		return vfs.Normalize(spec[1:])
	case len(spec) > 0 && spec[0] == '/':
		return vfs.Normalize(spec)
	default:
		return importmap.ResolveRelative(importer, spec)
	}
}

func collectFailures(results []transform.Result) []assemble.Failure {
	var failures []assemble.Failure
	for _, r := range results {
		if r.Failed() {
			failures = append(failures, assemble.Failure{Path: r.Path, Message: r.Err.Error()})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return failures
}
