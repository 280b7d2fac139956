// Package assemble emits the single self-contained preview document for one
// pipeline run: utility-CSS loader, import map, collected stylesheet text,
// an error-boundary bootstrap around the entry point, and a diagnostics
// panel when any file failed to compile. Assembly never fails; every input
// degrades to a document that says what went wrong.
package assemble

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/tinkerbench/sketch/internal/importmap"
)

// DefaultEntryCandidates is the ordered list of conventional entry-point
// filenames probed at the project root.
var DefaultEntryCandidates = []string{
	"/App.tsx", "/App.jsx", "/index.tsx", "/index.jsx", "/main.tsx", "/main.jsx",
}

// DefaultTailwindCDN is the utility-class styling loader injected into
// every document.
const DefaultTailwindCDN = "https://cdn.tailwindcss.com"

// Style is one collected stylesheet fragment.
type Style struct {
	Path    string
	Content string
}

// Failure names one file whose transform failed.
type Failure struct {
	Path    string
	Message string
}

// Input is everything one document needs.
type Input struct {
	Build    *importmap.Build
	Styles   []Style
	Failures []Failure
	// EntryPath is the canonical path of the entry file, or "" when the
	// project has none.
	EntryPath string
}

// Options configures an Assembler.
type Options struct {
	Title           string
	TailwindCDN     string
	EntryCandidates []string
	// LiveReload controls injection of the websocket reload script.
	LiveReload bool
}

// Assembler builds preview documents.
type Assembler struct {
	opts Options
}

// New creates an assembler.
func New(opts Options) *Assembler {
	if opts.Title == "" {
		opts.Title = "Sketch Preview"
	}
	if opts.TailwindCDN == "" {
		opts.TailwindCDN = DefaultTailwindCDN
	}
	if len(opts.EntryCandidates) == 0 {
		opts.EntryCandidates = DefaultEntryCandidates
	}
	return &Assembler{opts: opts}
}

// FindEntry returns the first existing candidate entry path, or "".
func (a *Assembler) FindEntry(exists func(path string) bool) string {
	for _, candidate := range a.opts.EntryCandidates {
		if exists(candidate) {
			return candidate
		}
	}
	return ""
}

// Document produces the complete executable document.
func (a *Assembler) Document(in Input) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(a.opts.Title))
	fmt.Fprintf(&b, "<script src=%q></script>\n", a.opts.TailwindCDN)

	b.WriteString("<script type=\"importmap\">\n")
	b.WriteString(importMapJSON(in.Build))
	b.WriteString("\n</script>\n")

	if len(in.Styles) > 0 {
		b.WriteString("<style>\n")
		for _, style := range in.Styles {
			fmt.Fprintf(&b, "/* %s */\n%s\n", style.Path, sanitizeCSS(style.Content))
		}
		b.WriteString("</style>\n")
	}

	b.WriteString("</head>\n<body>\n")

	if len(in.Failures) > 0 {
		writeDiagnostics(&b, in.Failures)
	}

	b.WriteString("<div id=\"root\"></div>\n")

	switch {
	case in.EntryPath != "":
		writeBootstrap(&b, in.EntryPath)
	default:
		writeNoEntry(&b, a.opts.EntryCandidates)
	}

	if a.opts.LiveReload {
		writeReloadScript(&b)
	}

	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func importMapJSON(build *importmap.Build) string {
	imports := map[string]string{}
	if build != nil {
		imports = build.Imports
	}

	// json.Marshal escapes angle brackets, so the payload is safe inside
	// a script element.
	data, err := json.Marshal(map[string]map[string]string{"imports": imports})
	if err != nil {
		return `{"imports":{}}`
	}
	return string(data)
}

var styleCloser = regexp.MustCompile(`(?i)</style`)

// sanitizeCSS keeps embedded stylesheet text from terminating the style
// element early.
func sanitizeCSS(css string) string {
	return styleCloser.ReplaceAllString(css, `<\2f style`)
}

func writeDiagnostics(b *strings.Builder, failures []Failure) {
	b.WriteString(`<div style="background:#fef2f2;border-bottom:2px solid #f87171;padding:16px;font-family:monospace;font-size:13px;color:#b91c1c">` + "\n")
	fmt.Fprintf(b, "<strong>%d file(s) failed to compile</strong>\n<ul>\n", len(failures))
	for _, failure := range failures {
		fmt.Fprintf(b, "<li><code>%s</code>: %s</li>\n",
			html.EscapeString(failure.Path), html.EscapeString(failure.Message))
	}
	b.WriteString("</ul>\n</div>\n")
}

// writeBootstrap mounts the entry point under an error boundary so a
// rendering failure produces a visible fallback rather than a blank page.
func writeBootstrap(b *strings.Builder, entryPath string) {
	fmt.Fprintf(b, `<script type="module">
import { Component, createElement } from "react";
import { createRoot } from "react-dom/client";
import App from %q;

class ErrorBoundary extends Component {
  constructor(props) {
    super(props);
    this.state = { error: null };
  }
  static getDerivedStateFromError(error) {
    return { error };
  }
  render() {
    if (this.state.error) {
      return createElement(
        "div",
        { style: { padding: "16px", color: "#b91c1c", fontFamily: "monospace", fontSize: "13px" } },
        "Render failed: " + String(this.state.error)
      );
    }
    return this.props.children;
  }
}

const root = createRoot(document.getElementById("root"));
root.render(createElement(ErrorBoundary, null, createElement(App)));
</script>
`, entryPath)
}

func writeNoEntry(b *strings.Builder, candidates []string) {
	b.WriteString(`<div style="padding:32px;font-family:sans-serif;color:#6b7280;text-align:center">` + "\n")
	b.WriteString("<h2>No entry point</h2>\n<p>Create one of: ")
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = html.EscapeString(strings.TrimPrefix(c, "/"))
	}
	b.WriteString("<code>" + strings.Join(names, "</code>, <code>") + "</code>")
	b.WriteString("</p>\n</div>\n")
}

func writeReloadScript(b *strings.Builder) {
	b.WriteString(`<script>
(function () {
  const proto = window.location.protocol === "https:" ? "wss://" : "ws://";
  const ws = new WebSocket(proto + window.location.host + "/ws");
  ws.onmessage = function (event) {
    const message = JSON.parse(event.data);
    if (message.type === "full_reload") {
      window.location.reload();
    }
  };
})();
</script>
`)
}
