package vfs

import (
	"sort"

	"github.com/tinkerbench/sketch/internal/errors"
)

// SerializedNode is the flat persisted record for one node.
type SerializedNode struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
}

// Serialized is the flat mapping from canonical path to node record handed
// to persistence collaborators. Deserializing and re-serializing yields an
// equivalent mapping: identical path set, identical content.
type Serialized map[string]SerializedNode

// Serialize produces the flat representation of the whole tree. The root
// is implicit and not included; directories are included so empty ones
// survive a round trip.
func (t *Tree) Serialize() Serialized {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make(Serialized, len(t.nodes)-1)
	for path, node := range t.nodes {
		if path == Root {
			continue
		}
		out[path] = SerializedNode{Kind: node.Kind.String(), Content: node.Content}
	}
	return out
}

// Load replaces the entire tree contents with the serialized mapping,
// discarding prior state. Paths are normalized on the way in and missing
// ancestors are reconstructed, so a mapping holding only files hydrates
// correctly. A kind conflict between entries fails the load; the tree is
// then in the partially hydrated state and the caller decides whether to
// retry with corrected input.
func (t *Tree) Load(serialized Serialized) error {
	paths := make([]string, 0, len(serialized))
	for p := range serialized {
		paths = append(paths, p)
	}
	// Lexicographic order visits parents before their descendants.
	sort.Strings(paths)

	t.mutex.Lock()
	t.nodes = make(map[string]*Node, len(serialized)+1)
	t.nodes[Root] = &Node{Path: Root, Kind: KindDirectory}

	for _, raw := range paths {
		record := serialized[raw]
		path := Normalize(raw)
		if path == Root {
			continue
		}

		kind := KindFile
		if record.Kind == KindDirectory.String() {
			kind = KindDirectory
		}

		if existing, ok := t.nodes[path]; ok {
			if existing.Kind != kind {
				t.mutex.Unlock()
				return errors.ErrPathOccupied(path, existing.Kind.String())
			}
			if kind == KindFile {
				existing.Content = record.Content
			}
			continue
		}

		if err := t.ensureAncestors(path); err != nil {
			t.mutex.Unlock()
			return err
		}

		node := &Node{Path: path, Name: Base(path), Kind: kind}
		if kind == KindFile {
			node.Content = record.Content
		}
		t.insert(node)
	}

	event := t.bump(EventLoaded, Root)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}
