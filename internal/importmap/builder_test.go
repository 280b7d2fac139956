package importmap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerbench/sketch/internal/transform"
)

func compile(t *testing.T, path, source string) transform.Result {
	t.Helper()
	result := transform.New("react").File(path, source)
	require.False(t, result.Failed(), "fixture %s failed to compile: %v", path, result.Err)
	return result
}

func TestBuild_ExactAndAliasSpellings(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/components/Button.tsx", `export default function Button() { return <button /> }`),
	})

	servePath := "/__run/1/m/components/Button.tsx.mjs"
	require.Contains(t, build.Modules, servePath)

	for _, spec := range []string{
		"/components/Button.tsx",
		"/components/Button",
		"@/components/Button.tsx",
		"@/components/Button",
	} {
		assert.Equal(t, servePath, build.Imports[spec], "spelling %s", spec)
	}
}

func TestBuild_AliasImportResolves(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/components/Button.tsx", `export default function Button() { return <button /> }`),
		compile(t, "/App.tsx", `import Button from "@/components/Button";
export default function App() { return <Button /> }`),
	})

	url, ok := build.Imports["@/components/Button"]
	require.True(t, ok)
	assert.Equal(t, "/__run/1/m/components/Button.tsx.mjs", url)
	assert.Empty(t, build.Placeholders)
}

func TestBuild_ExtensionPriority(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/util.ts", `export const a = 1`),
		compile(t, "/util.tsx", `export const a = 2`),
	})

	// .tsx outranks .ts for the extension-less spelling; exact spellings
	// keep their own handles.
	assert.Equal(t, "/__run/1/m/util.tsx.mjs", build.Imports["/util"])
	assert.Equal(t, "/__run/1/m/util.ts.mjs", build.Imports["/util.ts"])
	assert.Equal(t, "/__run/1/m/util.tsx.mjs", build.Imports["/util.tsx"])
}

func TestBuild_DirectoryIndex(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/components/index.tsx", `export const x = 1`),
	})

	assert.Equal(t, "/__run/1/m/components/index.tsx.mjs", build.Imports["/components"])
	assert.Equal(t, "/__run/1/m/components/index.tsx.mjs", build.Imports["@/components"])
}

func TestBuild_MissingLocalImportGetsPlaceholder(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/App.tsx", `import Missing from "/components/Missing";
export default function App() { return <Missing /> }`),
	})

	url, ok := build.Imports["/components/Missing"]
	require.True(t, ok, "dangling local import must still resolve")

	module, ok := build.Modules[url]
	require.True(t, ok)
	assert.Contains(t, module.Code, "Missing module")
	assert.Contains(t, module.Code, "/components/Missing")
	assert.Contains(t, build.Placeholders, "/components/Missing")
}

func TestBuild_RelativeImports(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(3, []transform.Result{
		compile(t, "/components/Button.tsx", `export default function Button() { return <button /> }`),
		compile(t, "/components/Card.tsx", `import Button from "./Button";
export default function Card() { return <Button /> }`),
	})

	// "./Button" inside /__run/3/m/components/Card.tsx.mjs resolves to the
	// run-scoped URL, which must be mapped.
	url, ok := build.Imports["/__run/3/m/components/Button"]
	require.True(t, ok)
	assert.Equal(t, "/__run/3/m/components/Button.tsx.mjs", url)
	assert.Empty(t, build.Placeholders)
}

func TestBuild_RelativeImportMissing(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/pages/Home.tsx", `import Gone from "../widgets/Gone";
export default function Home() { return <Gone /> }`),
	})

	url, ok := build.Imports["/__run/1/m/widgets/Gone"]
	require.True(t, ok)
	assert.Contains(t, build.Modules[url].Code, "Missing module")
	require.Len(t, build.Placeholders, 1)
	assert.Contains(t, build.Placeholders[0], "../widgets/Gone")
}

func TestBuild_BarePackagesRouteToCDN(t *testing.T) {
	builder := NewBuilder(Options{
		Packages: map[string]string{"react": "18.3.1"},
	})

	build := builder.Build(1, []transform.Result{
		compile(t, "/App.tsx", `import { useState } from "react";
import { motion } from "framer-motion";
export default function App() { return <motion.div>{useState(0)[0]}</motion.div> }`),
	})

	assert.Equal(t, "https://esm.sh/react@18.3.1", build.Imports["react"])
	assert.Equal(t, "https://esm.sh/react@18.3.1/jsx-runtime", build.Imports["react/jsx-runtime"])
	assert.Equal(t, "https://esm.sh/framer-motion", build.Imports["framer-motion"])
}

func TestBuild_InlineVersionSpecifier(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/main.ts", `import confetti from "canvas-confetti@1.9";
confetti()`),
	})

	assert.Equal(t, "https://esm.sh/canvas-confetti@1.9", build.Imports["canvas-confetti@1.9"])
}

func TestBuild_ScopedPackage(t *testing.T) {
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/main.ts", `import { z } from "@hookform/resolvers/zod";
z()`),
	})

	assert.Equal(t, "https://esm.sh/@hookform/resolvers/zod", build.Imports["@hookform/resolvers/zod"])
}

func TestBuild_SeededSpecifiers(t *testing.T) {
	builder := NewBuilder(Options{
		Seed:     []string{"react", "react-dom/client"},
		Packages: map[string]string{"react-dom": "18.3.1"},
	})

	build := builder.Build(1, nil)

	assert.Equal(t, "https://esm.sh/react", build.Imports["react"])
	assert.Equal(t, "https://esm.sh/react-dom@18.3.1/client", build.Imports["react-dom/client"])
}

func TestBuild_DefaultSeedCoversBootstrap(t *testing.T) {
	// Compiled sources only reference the automatic JSX runtime; the
	// bootstrap's own bare imports must still resolve.
	builder := NewBuilder(Options{})

	build := builder.Build(1, []transform.Result{
		compile(t, "/App.tsx", `export default function App() { return <p>hi</p> }`),
	})

	for _, spec := range DefaultSeed {
		assert.Contains(t, build.Imports, spec)
	}
	assert.Equal(t, "https://esm.sh/react", build.Imports["react"])
	assert.Equal(t, "https://esm.sh/react-dom/client", build.Imports["react-dom/client"])
}

func TestBuild_EmptySeedDisablesDefaults(t *testing.T) {
	builder := NewBuilder(Options{Seed: []string{}})

	build := builder.Build(1, nil)

	assert.NotContains(t, build.Imports, "react-dom/client")
}

func TestBuild_HandlesAreRunScoped(t *testing.T) {
	builder := NewBuilder(Options{})
	results := []transform.Result{
		compile(t, "/App.tsx", `export default function App() { return null }`),
	}

	first := builder.Build(1, results)
	second := builder.Build(2, results)

	for servePath := range first.Modules {
		_, stale := second.Modules[servePath]
		assert.False(t, stale, "run 2 must not reuse run 1 handle %s", servePath)
		assert.True(t, strings.Contains(servePath, "/__run/1/"))
	}
}

func TestBuild_FailedResultsExcluded(t *testing.T) {
	builder := NewBuilder(Options{})
	broken := transform.New("react").File("/Broken.tsx", `export default function ( {`)
	require.True(t, broken.Failed())

	build := builder.Build(1, []transform.Result{broken})

	assert.Empty(t, build.Modules)
	assert.NotContains(t, build.Imports, "/Broken.tsx")
}

func TestSplitPackage(t *testing.T) {
	tests := []struct {
		spec                   string
		name, version, subpath string
	}{
		{"react", "react", "", ""},
		{"react/jsx-runtime", "react", "", "jsx-runtime"},
		{"react@18", "react", "18", ""},
		{"react@18.3.1/jsx-runtime", "react", "18.3.1", "jsx-runtime"},
		{"@scope/pkg", "@scope/pkg", "", ""},
		{"@scope/pkg/deep/sub", "@scope/pkg", "", "deep/sub"},
		{"@scope/pkg@2.0.0", "@scope/pkg", "2.0.0", ""},
	}

	for _, tt := range tests {
		name, version, subpath := splitPackage(tt.spec)
		assert.Equal(t, tt.name, name, tt.spec)
		assert.Equal(t, tt.version, version, tt.spec)
		assert.Equal(t, tt.subpath, subpath, tt.spec)
	}
}
