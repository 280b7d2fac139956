// Package transform converts one source file's text into directly
// executable ES module code using the esbuild transform API. Stylesheet
// imports are stripped from the executable output and reported as a side
// channel so their text can be inlined into the preview document instead of
// being executed as code.
//
// A syntax error never aborts anything: the transformer returns a result
// tagged as failed with a human-readable diagnostic so the rest of the
// pipeline can keep going and surface a partial failure.
package transform

import (
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/tinkerbench/sketch/internal/errors"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// Dialect is the closed set of recognized source dialects, dispatched once
// per file extension.
type Dialect int

const (
	// DialectComponent is markup-bearing script (.tsx, .jsx).
	DialectComponent Dialect = iota
	// DialectScript is plain script (.ts, .js, .mjs).
	DialectScript
	// DialectStylesheet is raw CSS, passed through as style text.
	DialectStylesheet
	// DialectData is JSON, loadable as a module.
	DialectData
	// DialectUnknown is anything else; such files are ignored by the
	// pipeline but still live in the tree.
	DialectUnknown
)

// String returns the dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectComponent:
		return "component"
	case DialectScript:
		return "script"
	case DialectStylesheet:
		return "stylesheet"
	case DialectData:
		return "data"
	default:
		return "unknown"
	}
}

// DialectFor determines a file's dialect from its extension.
func DialectFor(path string) Dialect {
	switch strings.ToLower(vfs.Ext(path)) {
	case ".tsx", ".jsx":
		return DialectComponent
	case ".ts", ".js", ".mjs":
		return DialectScript
	case ".css":
		return DialectStylesheet
	case ".json":
		return DialectData
	default:
		return DialectUnknown
	}
}

// Result is one file's ephemeral transform output for a single pipeline
// run. It is never retained across runs.
type Result struct {
	Path    string
	Dialect Dialect

	// Code is the compiled ES module text. Empty when Err is set or the
	// dialect is DialectStylesheet.
	Code string

	// StyleImports holds the stylesheet specifiers that were stripped from
	// the executable output, as written in source.
	StyleImports []string

	// Err carries the diagnostic for a failed transform. The rest of the
	// result is valid regardless.
	Err error
}

// Failed reports whether the transform failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Transformer performs per-file source transformation. It is stateless per
// call and safe for concurrent use.
type Transformer struct {
	jsxImportSource string
}

// New creates a transformer. JSX compiles against the automatic runtime of
// jsxImportSource; empty means "react".
func New(jsxImportSource string) *Transformer {
	if jsxImportSource == "" {
		jsxImportSource = "react"
	}
	return &Transformer{jsxImportSource: jsxImportSource}
}

// styleImportPattern matches whole-line stylesheet imports such as
//
//	import "./styles.css";
//	import '@/theme/dark.css'
var styleImportPattern = regexp.MustCompile(`(?m)^[ \t]*import\s+['"]([^'"]+\.css)['"];?[ \t]*$`)

// File transforms one file's raw text according to its dialect.
func (t *Transformer) File(path, source string) Result {
	path = vfs.Normalize(path)
	dialect := DialectFor(path)

	result := Result{Path: path, Dialect: dialect}

	switch dialect {
	case DialectStylesheet, DialectUnknown:
		// Nothing to compile. Stylesheets are collected by path; unknown
		// files are left alone.
		return result
	case DialectData:
		// JSON is valid input to the script loader below.
	}

	stripped := styleImportPattern.ReplaceAllStringFunc(source, func(match string) string {
		spec := styleImportPattern.FindStringSubmatch(match)[1]
		result.StyleImports = append(result.StyleImports, spec)
		return ""
	})

	compiled := api.Transform(stripped, api.TransformOptions{
		Loader:          loaderFor(path, dialect),
		Format:          api.FormatESModule,
		Target:          api.ES2020,
		JSX:             api.JSXAutomatic,
		JSXImportSource: t.jsxImportSource,
		Sourcefile:      path,
		LogLevel:        api.LogLevelSilent,
	})

	if len(compiled.Errors) > 0 {
		result.Err = diagnostic(path, compiled.Errors[0])
		return result
	}

	result.Code = string(compiled.Code)
	return result
}

func loaderFor(path string, dialect Dialect) api.Loader {
	switch strings.ToLower(vfs.Ext(path)) {
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".ts":
		return api.LoaderTS
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJS
	}
}

// diagnostic converts an esbuild message into the engine's transform error.
func diagnostic(path string, msg api.Message) error {
	err := errors.NewTransformError(msg.Text, nil)
	if msg.Location != nil {
		err.WithLocation(path, msg.Location.Line, msg.Location.Column+1)
	} else {
		err.Path = path
	}
	return err
}

// importPattern matches static import, re-export, and dynamic import
// specifiers in compiled module code. Compiled output is regular enough
// (one statement per line, double quotes) for this to be reliable without
// a full parser.
var importPattern = regexp.MustCompile(
	`(?m)(?:^\s*import\s+[^'"]*?from\s*|^\s*import\s*|^\s*export\s+[^'"]*?from\s*|\bimport\()\s*["']([^"']+)["']`)

// ScanImports returns the distinct module specifiers referenced by the
// compiled code, in first-appearance order.
func ScanImports(code string) []string {
	matches := importPattern.FindAllStringSubmatch(code, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		spec := m[1]
		if _, dup := seen[spec]; dup {
			continue
		}
		seen[spec] = struct{}{}
		out = append(out, spec)
	}
	return out
}
