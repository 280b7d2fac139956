// Package importmap builds the module-resolution table for one pipeline
// run: every local file mapped under all of its accepted specifier
// spellings, placeholder modules synthesized for dangling local imports,
// and bare package names routed to a remote module CDN.
//
// Resolution priority for a specifier, per run: alias substitution, exact
// path, extension-optional match, directory index, local placeholder, CDN.
package importmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tinkerbench/sketch/internal/transform"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// SourceExtensions is the fixed priority order for extension-optional
// specifier matching.
var SourceExtensions = []string{".tsx", ".jsx", ".ts", ".js", ".json"}

// DefaultAlias is the project-root import alias: "@/x" resolves to "/x".
const DefaultAlias = "@"

// DefaultCDN serves bare package specifiers.
const DefaultCDN = "https://esm.sh"

// DefaultSeed covers the bare specifiers the document bootstrap and the
// placeholder modules import themselves. Compiled sources only ever
// contribute the automatic JSX runtime, so without seeding these the
// served map would leave the bootstrap's own imports unresolvable.
var DefaultSeed = []string{"react", "react-dom/client"}

// Module is a loadable resource handle: one freshly minted in-memory
// module, addressable at ServePath for exactly the run that minted it.
type Module struct {
	// ServePath is the run-scoped URL path the rendering host serves the
	// code under.
	ServePath string
	// SourcePath is the originating canonical file path, or "" for a
	// synthesized placeholder.
	SourcePath string
	Code       string
}

// Build is the complete resolution table of one pipeline run. It is
// regenerated in full on every run and never patched incrementally.
type Build struct {
	RunID uint64

	// Imports is the import-map "imports" object: specifier → URL.
	Imports map[string]string

	// Modules holds every minted handle keyed by ServePath.
	Modules map[string]*Module

	// Placeholders lists the local specifiers that could not be resolved
	// and were given stand-in modules.
	Placeholders []string
}

// Options configures a Builder.
type Options struct {
	// Alias is the root-alias prefix without the slash, "@" by default.
	Alias string
	// CDN is the remote module delivery base URL.
	CDN string
	// Packages pins bare package specifiers to versions, e.g. "react" →
	// "18.3.1".
	Packages map[string]string
	// Seed lists bare specifiers that must be mapped even if no source
	// file imports them; the preview bootstrap depends on these. A nil
	// slice means DefaultSeed; pass an empty one to seed nothing.
	Seed []string
}

// Builder constructs resolution tables. Safe for reuse across runs.
type Builder struct {
	alias    string
	cdn      string
	packages map[string]string
	seed     []string
}

// NewBuilder creates a builder with the given options.
func NewBuilder(opts Options) *Builder {
	alias := opts.Alias
	if alias == "" {
		alias = DefaultAlias
	}
	cdn := strings.TrimSuffix(opts.CDN, "/")
	if cdn == "" {
		cdn = DefaultCDN
	}
	seed := opts.Seed
	if seed == nil {
		seed = DefaultSeed
	}
	return &Builder{
		alias:    alias,
		cdn:      cdn,
		packages: opts.Packages,
		seed:     seed,
	}
}

// runPrefix is the URL namespace for one run's module handles.
func runPrefix(runID uint64) string {
	return fmt.Sprintf("/__run/%d/m", runID)
}

// Build constructs the resolution table for one run from the full set of
// transform results. Results must cover the complete tree snapshot; the
// extension-optional and directory-index rules need the whole file set.
func (b *Builder) Build(runID uint64, results []transform.Result) *Build {
	out := &Build{
		RunID:   runID,
		Imports: make(map[string]string),
		Modules: make(map[string]*Module),
	}
	prefix := runPrefix(runID)

	// Deterministic iteration regardless of transform completion order.
	ordered := make([]transform.Result, len(results))
	copy(ordered, results)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })

	// Mint one handle per successfully compiled module.
	handles := make(map[string]string) // file path → serve path
	for _, r := range ordered {
		if r.Failed() || r.Code == "" {
			continue
		}
		servePath := prefix + r.Path + ".mjs"
		out.Modules[servePath] = &Module{
			ServePath:  servePath,
			SourcePath: r.Path,
			Code:       r.Code,
		}
		handles[r.Path] = servePath
	}

	// Exact-path spellings always win.
	for path, servePath := range handles {
		b.claim(out, prefix, path, servePath, true)
	}

	// Extension-optional spellings: first extension in priority order
	// claims the bare name.
	claimed := make(map[string]bool)
	for _, ext := range SourceExtensions {
		for _, r := range ordered {
			servePath, ok := handles[r.Path]
			if !ok || !strings.HasSuffix(r.Path, ext) {
				continue
			}
			bare := strings.TrimSuffix(r.Path, ext)
			if bare == "" || claimed[bare] {
				continue
			}
			claimed[bare] = true
			b.claim(out, prefix, bare, servePath, false)

			// Directory-index match: /dir/index.tsx also answers for /dir.
			if vfs.Base(bare) == "index" {
				dir := vfs.Dir(bare)
				if dir != vfs.Root && !claimed[dir] {
					claimed[dir] = true
					b.claim(out, prefix, dir, servePath, false)
				}
			}
		}
	}

	// Resolve every specifier referenced by compiled output.
	for _, r := range ordered {
		if r.Failed() || r.Code == "" {
			continue
		}
		for _, spec := range transform.ScanImports(r.Code) {
			b.resolveSpecifier(out, prefix, r.Path, spec)
		}
	}

	for _, spec := range b.seed {
		if _, ok := out.Imports[spec]; !ok {
			out.Imports[spec] = b.cdnURL(spec)
		}
	}

	sort.Strings(out.Placeholders)
	return out
}

// claim registers a target path under its three accepted spelling domains:
// the absolute path, the alias-qualified path, and the run-scoped URL that
// importer-relative specifiers resolve to. exact marks a spelling carrying
// its real extension, which may override an earlier extension-optional
// claim of the same key.
func (b *Builder) claim(out *Build, prefix, key, servePath string, exact bool) {
	set := func(spec string) {
		if _, taken := out.Imports[spec]; taken && !exact {
			return
		}
		out.Imports[spec] = servePath
	}
	set(key)
	set(b.alias + key)
	set(prefix + key)
}

// resolveSpecifier applies the resolution rules to one specifier as
// written in importer's compiled code.
func (b *Builder) resolveSpecifier(out *Build, prefix, importer, spec string) {
	switch {
	case strings.HasPrefix(spec, b.alias+"/"):
		// Alias substitution happened at claim time; a hit is already
		// mapped. A miss is a dangling alias import.
		if _, ok := out.Imports[spec]; !ok {
			b.placeholder(out, spec, spec)
		}

	case strings.HasPrefix(spec, "/"):
		if _, ok := out.Imports[spec]; !ok {
			b.placeholder(out, spec, spec)
		}

	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		// The browser resolves these against the importer's run-scoped
		// URL before consulting the map, so hits were covered by claim.
		resolved := ResolveRelative(importer, spec)
		if _, ok := out.Imports[prefix+resolved]; !ok {
			b.placeholder(out, spec+" (from "+importer+")", prefix+resolved)
		}

	default:
		if _, ok := out.Imports[spec]; !ok {
			out.Imports[spec] = b.cdnURL(spec)
		}
	}
}

// placeholder synthesizes a visible stand-in module so one missing file
// never blocks the rest of the preview.
func (b *Builder) placeholder(out *Build, label, key string) {
	servePath := strings.TrimSuffix(key, "/")
	if !strings.HasPrefix(servePath, "/") {
		servePath = "/" + strings.ReplaceAll(servePath, "/", "_")
	}
	servePath = "/__placeholder" + servePath + ".mjs"

	if _, ok := out.Modules[servePath]; !ok {
		out.Modules[servePath] = &Module{
			ServePath: servePath,
			Code:      placeholderModule(label),
		}
		out.Placeholders = append(out.Placeholders, label)
	}
	out.Imports[key] = servePath
}

// ResolveRelative resolves a ./ or ../ specifier against the importer's
// directory into a canonical absolute path.
func ResolveRelative(importer, spec string) string {
	segments := vfs.Split(vfs.Dir(importer))
	for _, seg := range strings.Split(spec, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}
	return vfs.Normalize(strings.Join(segments, "/"))
}

// cdnURL maps a bare package specifier to the remote module delivery
// endpoint, honoring a pinned version when the project declares one and an
// inline version when the specifier carries its own.
func (b *Builder) cdnURL(spec string) string {
	name, version, subpath := splitPackage(spec)
	if version == "" {
		version = b.packages[name]
	}

	url := b.cdn + "/" + name
	if version != "" {
		url += "@" + version
	}
	if subpath != "" {
		url += "/" + subpath
	}
	return url
}

// splitPackage splits a bare specifier into package name, inline version,
// and subpath. Scoped packages keep their two-segment name.
func splitPackage(spec string) (name, version, subpath string) {
	rest := spec
	if strings.HasPrefix(rest, "@") {
		// @scope/name[/subpath]
		i := strings.Index(rest, "/")
		if i < 0 {
			return rest, "", ""
		}
		j := strings.Index(rest[i+1:], "/")
		if j < 0 {
			name, rest = rest, ""
		} else {
			name, rest = rest[:i+1+j], rest[i+2+j:]
		}
	} else {
		i := strings.Index(rest, "/")
		if i < 0 {
			name, rest = rest, ""
		} else {
			name, rest = rest[:i], rest[i+1:]
		}
	}
	subpath = rest

	// An inline version rides on the name: react@18, @scope/pkg@2.0.0.
	if at := strings.LastIndex(name, "@"); at > 0 {
		version = name[at+1:]
		name = name[:at]
	}
	return name, version, subpath
}

// placeholderModule renders a visible "missing module" stand-in component
// in place of code that could not be resolved.
func placeholderModule(label string) string {
	return fmt.Sprintf(`import { createElement } from "react";

const label = %q;

export default function MissingModule() {
  return createElement(
    "div",
    {
      style: {
        border: "2px dashed #f87171",
        borderRadius: "8px",
        padding: "12px",
        margin: "8px 0",
        color: "#b91c1c",
        fontFamily: "monospace",
        fontSize: "13px",
        background: "#fef2f2",
      },
    },
    "Missing module: " + label
  );
}

console.warn("[sketch] missing module:", label);
`, label)
}
