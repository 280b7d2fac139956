// Package vfs implements the in-memory hierarchical file store that backs a
// sketch project: canonical path handling, a tree store keyed by canonical
// path, change notification, and the flat serialized representation used by
// persistence collaborators.
package vfs

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the canonical path of the tree root.
const Root = "/"

// Normalize canonicalizes an arbitrary path string: Unicode NFC folding,
// a leading separator, no separator runs, no trailing separator except for
// the root itself. Every input has a defined canonical output; the empty
// string maps to the root. Normalize is idempotent.
func Normalize(path string) string {
	path = norm.NFC.String(path)

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	if len(segments) == 0 {
		return Root
	}

	return "/" + strings.Join(segments, "/")
}

// Join joins a canonical directory path with a child name.
func Join(dir, name string) string {
	if dir == Root {
		return Normalize("/" + name)
	}
	return Normalize(dir + "/" + name)
}

// Base returns the last segment of a canonical path. The root has no name.
func Base(path string) string {
	path = Normalize(path)
	if path == Root {
		return ""
	}
	return path[strings.LastIndexByte(path, '/')+1:]
}

// Dir returns the canonical parent path.
func Dir(path string) string {
	path = Normalize(path)
	if path == Root {
		return Root
	}
	i := strings.LastIndexByte(path, '/')
	if i == 0 {
		return Root
	}
	return path[:i]
}

// Split returns the canonical path's segments. The root splits to nil.
func Split(path string) []string {
	path = Normalize(path)
	if path == Root {
		return nil
	}
	return strings.Split(path[1:], "/")
}

// IsDescendant reports whether path lies strictly inside the subtree rooted
// at ancestor. A path is not its own descendant.
func IsDescendant(ancestor, path string) bool {
	ancestor = Normalize(ancestor)
	path = Normalize(path)

	if ancestor == Root {
		return path != Root
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// Ext returns the extension of the final segment including the dot, or ""
// when the name has none.
func Ext(path string) string {
	name := Base(path)
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
