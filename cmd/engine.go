package cmd

import (
	"context"
	"time"

	"github.com/tinkerbench/sketch/internal/assemble"
	"github.com/tinkerbench/sketch/internal/config"
	"github.com/tinkerbench/sketch/internal/importmap"
	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/pipeline"
	"github.com/tinkerbench/sketch/internal/vfs"
	"github.com/tinkerbench/sketch/internal/watcher"
)

// newPipeline wires a pipeline for tree from the merged configuration and
// the project's own sketch.yml manifest.
func newPipeline(tree *vfs.Tree, cfg *config.Config, logger logging.Logger) (*pipeline.Pipeline, error) {
	manifest, err := config.LoadManifest(tree)
	if err != nil {
		return nil, err
	}

	builder := importmap.NewBuilder(importmap.Options{
		Alias:    manifest.Alias,
		CDN:      cfg.Preview.ModuleCDN,
		Packages: manifest.Packages,
	})

	title := cfg.Preview.Title
	if manifest.Name != "" {
		title = manifest.Name
	}
	assembler := assemble.New(assemble.Options{
		Title:           title,
		TailwindCDN:     cfg.Preview.TailwindCDN,
		EntryCandidates: manifest.Entry,
		LiveReload:      cfg.Preview.LiveReload,
	})

	return pipeline.New(tree, pipeline.Options{
		Workers:   cfg.Pipeline.Workers,
		Debounce:  time.Duration(cfg.Pipeline.DebounceMs) * time.Millisecond,
		Builder:   builder,
		Assembler: assembler,
		Logger:    logger,
	}), nil
}

// seedTree mirrors the project directory into a fresh tree and returns
// the watcher, which is seeded but not yet started.
func seedTree(ctx context.Context, dir string, cfg *config.Config, logger logging.Logger) (*vfs.Tree, *watcher.DirWatcher, error) {
	tree := vfs.NewTree()
	debounce := time.Duration(cfg.Pipeline.DebounceMs) * time.Millisecond

	w, err := watcher.New(dir, tree, debounce, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := w.Seed(ctx); err != nil {
		w.Stop()
		return nil, nil, err
	}
	return tree, w, nil
}
