package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerbench/sketch/internal/transform"
	"github.com/tinkerbench/sketch/internal/vfs"
)

func newProject(t *testing.T) *vfs.Tree {
	t.Helper()
	tree := vfs.NewTree()
	require.NoError(t, tree.CreateFile("/App.tsx", `import Button from "@/components/Button";
import "./app.css";

export default function App() {
	return <Button label="go" />
}`))
	require.NoError(t, tree.CreateFile("/components/Button.tsx", `export default function Button({ label }) {
	return <button>{label}</button>
}`))
	require.NoError(t, tree.CreateFile("/app.css", "body { margin: 0 }"))
	return tree
}

func TestTransformAll_CancelledContextDropsUndispatched(t *testing.T) {
	p := New(vfs.NewTree(), Options{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snapshot := map[string]string{}
	for i := 0; i < 64; i++ {
		snapshot["/m"+string(rune('a'+i%26))+strings.Repeat("x", i)+".ts"] = "export const v = 1"
	}

	results := p.transformAll(ctx, snapshot)
	assert.LessOrEqual(t, len(results), len(snapshot))
	for _, r := range results {
		assert.NotEmpty(t, r.Path, "every returned result must come from a dispatched path")
	}
}

func TestRunOnce_ProducesCompleteDocument(t *testing.T) {
	tree := newProject(t)
	p := New(tree, Options{})

	result := p.RunOnce(context.Background())

	assert.Equal(t, "/App.tsx", result.Entry)
	assert.Empty(t, result.Failures)
	assert.Contains(t, result.Document, "importmap")
	assert.Contains(t, result.Document, "body { margin: 0 }")
	assert.Contains(t, result.Document, `import App from "/App.tsx"`)

	// The entry's compiled module is dereferenceable via its handle.
	url := result.Build.Imports["/App.tsx"]
	module, ok := p.Module(url)
	require.True(t, ok)
	assert.Contains(t, module.Code, "Button")
	assert.NotContains(t, module.Code, "app.css", "stylesheet import stripped")
}

// documentImportMap extracts the import map payload embedded in a document.
func documentImportMap(t *testing.T, document string) map[string]string {
	t.Helper()

	start := strings.Index(document, `<script type="importmap">`)
	require.GreaterOrEqual(t, start, 0)
	rest := document[start:]
	open := strings.Index(rest, "{")
	end := strings.Index(rest, "</script>")
	require.True(t, open >= 0 && end > open)

	var payload struct {
		Imports map[string]string `json:"imports"`
	}
	require.NoError(t, json.Unmarshal([]byte(rest[open:end]), &payload))
	return payload.Imports
}

func TestRunOnce_ImportMapCoversBootstrapImports(t *testing.T) {
	// A minimal project contributes only the automatic JSX runtime to the
	// map; the bootstrap's own bare imports must still be mapped or the
	// browser aborts the whole module graph.
	tree := vfs.NewTree()
	require.NoError(t, tree.CreateFile("/App.tsx",
		`export default function App() { return <h1>hi</h1> }`))

	p := New(tree, Options{})
	result := p.RunOnce(context.Background())
	imports := documentImportMap(t, result.Document)

	// Every bare specifier any inline module script references.
	for _, spec := range transform.ScanImports(result.Document) {
		if strings.HasPrefix(spec, "/") || strings.HasPrefix(spec, ".") {
			continue
		}
		assert.Contains(t, imports, spec, "bootstrap import %s must resolve", spec)
	}
	assert.Contains(t, imports, "react")
	assert.Contains(t, imports, "react-dom/client")
}

func TestRunOnce_SyntaxErrorDegradesToDiagnostics(t *testing.T) {
	tree := newProject(t)
	require.NoError(t, tree.CreateFile("/Broken.tsx", "export default function ( {"))

	p := New(tree, Options{})
	result := p.RunOnce(context.Background())

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "/Broken.tsx", result.Failures[0].Path)
	assert.Contains(t, result.Document, "/Broken.tsx", "diagnostic names the failing file")
	assert.Contains(t, result.Document, "failed to compile")

	// Healthy files still compiled and mapped.
	assert.Contains(t, result.Build.Imports, "/components/Button")
}

func TestRunOnce_NoEntryPoint(t *testing.T) {
	tree := vfs.NewTree()
	require.NoError(t, tree.CreateFile("/lib/util.ts", "export const x = 1"))

	p := New(tree, Options{})
	result := p.RunOnce(context.Background())

	assert.Equal(t, "", result.Entry)
	assert.Contains(t, result.Document, "No entry point")
}

func TestRunOnce_SupersedesPriorHandles(t *testing.T) {
	tree := newProject(t)
	p := New(tree, Options{})

	first := p.RunOnce(context.Background())
	firstURL := first.Build.Imports["/App.tsx"]
	_, ok := p.Module(firstURL)
	require.True(t, ok)

	second := p.RunOnce(context.Background())

	_, stale := p.Module(firstURL)
	assert.False(t, stale, "superseded handle must not be reachable")

	secondURL := second.Build.Imports["/App.tsx"]
	_, ok = p.Module(secondURL)
	assert.True(t, ok)
	assert.Greater(t, second.RunID, first.RunID)
}

func TestRunOnce_DeterministicAcrossWorkerCounts(t *testing.T) {
	tree := newProject(t)

	serial := New(tree, Options{Workers: 1}).RunOnce(context.Background())
	parallel := New(tree, Options{Workers: 8}).RunOnce(context.Background())

	assert.Equal(t, serial.Failures, parallel.Failures)
	assert.Equal(t, serial.Styles, parallel.Styles)
	assert.Equal(t, serial.Entry, parallel.Entry)

	// Same import map modulo the run namespace, which embeds the run ID.
	assert.Equal(t, len(serial.Build.Imports), len(parallel.Build.Imports))
}

func TestStart_CoalescesEventBursts(t *testing.T) {
	tree := newProject(t)
	p := New(tree, Options{Debounce: 20 * time.Millisecond})

	var mu sync.Mutex
	var runs []Result
	p.AddCallback(func(r Result) {
		mu.Lock()
		runs = append(runs, r)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	// Wait for the initial run.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	// A burst of mutations inside the debounce window.
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.UpdateFile("/app.css", "body { margin: 0 } /* edit */"))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	// Let any stragglers drain, then confirm the burst coalesced rather
	// than producing one run per mutation.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	total := len(runs)
	mu.Unlock()
	assert.Less(t, total, 6, "5 rapid edits must not cause 5 runs")

	current, ok := p.Current()
	require.True(t, ok)
	assert.Contains(t, current.Document, "/* edit */")
}
