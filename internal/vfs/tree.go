package vfs

import (
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tinkerbench/sketch/internal/errors"
)

// Kind distinguishes file nodes from directory nodes.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the serialized form of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Node is the atomic tree entity. Nodes are owned exclusively by the Tree;
// accessors hand out copies, never internal pointers.
type Node struct {
	Path    string
	Name    string
	Kind    Kind
	Content string

	// children holds direct child names in insertion order (directories only).
	children []string
}

// FileInfo describes one file yielded by Files.
type FileInfo struct {
	Path string
	Name string
}

// EventType represents the type of tree change.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
	EventRemoved
	EventRenamed
	EventLoaded
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventRenamed:
		return "renamed"
	case EventLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Event is emitted after every successful mutation.
type Event struct {
	Type      EventType
	Path      string
	Revision  uint64
	Timestamp time.Time
}

// Tree is the store owning all nodes of one project, keyed by canonical
// path. All mutation goes through its methods; callers never hold node
// pointers. A Tree is safe for concurrent use, but concurrent external
// mutation requests are applied one at a time.
type Tree struct {
	mutex    sync.RWMutex
	nodes    map[string]*Node
	revision uint64
	watchers []chan Event
}

// NewTree creates an empty tree containing only the root directory.
func NewTree() *Tree {
	t := &Tree{nodes: make(map[string]*Node)}
	t.nodes[Root] = &Node{Path: Root, Kind: KindDirectory}
	return t
}

// Revision returns the monotonic mutation counter.
func (t *Tree) Revision() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.revision
}

// Exists reports whether any node occupies the path.
func (t *Tree) Exists(path string) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	_, ok := t.nodes[Normalize(path)]
	return ok
}

// Stat returns a copy of the node at path.
func (t *Tree) Stat(path string) (Node, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	node, ok := t.nodes[Normalize(path)]
	if !ok {
		return Node{}, false
	}
	return Node{Path: node.Path, Name: node.Name, Kind: node.Kind, Content: node.Content}, true
}

// CreateFile creates a file at path, creating missing ancestor directories.
// An existing file at path is overwritten (upsert semantics); an existing
// directory is a conflict.
func (t *Tree) CreateFile(path, content string) error {
	path = Normalize(path)

	t.mutex.Lock()
	if path == Root {
		t.mutex.Unlock()
		return errors.ErrPathOccupied(path, KindDirectory.String())
	}

	if existing, ok := t.nodes[path]; ok {
		if existing.Kind == KindDirectory {
			t.mutex.Unlock()
			return errors.ErrPathOccupied(path, KindDirectory.String())
		}
		existing.Content = content
		event := t.bump(EventUpdated, path)
		t.mutex.Unlock()
		t.notify(event)
		return nil
	}

	if err := t.ensureAncestors(path); err != nil {
		t.mutex.Unlock()
		return err
	}

	t.insert(&Node{Path: path, Name: Base(path), Kind: KindFile, Content: content})
	event := t.bump(EventCreated, path)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}

// CreateDir creates a directory at path, creating missing ancestors. An
// existing directory at path is a no-op; an existing file is a conflict.
func (t *Tree) CreateDir(path string) error {
	path = Normalize(path)

	t.mutex.Lock()
	if existing, ok := t.nodes[path]; ok {
		t.mutex.Unlock()
		if existing.Kind == KindFile {
			return errors.ErrPathOccupied(path, KindFile.String())
		}
		return nil
	}

	if err := t.ensureAncestors(path); err != nil {
		t.mutex.Unlock()
		return err
	}

	t.insert(&Node{Path: path, Name: Base(path), Kind: KindDirectory})
	event := t.bump(EventCreated, path)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}

// ReadFile returns a file's content. The second result is false when the
// path is absent or resolves to a directory.
func (t *Tree) ReadFile(path string) (string, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	node, ok := t.nodes[Normalize(path)]
	if !ok || node.Kind != KindFile {
		return "", false
	}
	return node.Content, true
}

// UpdateFile replaces an existing file's content. Unlike CreateFile it
// fails when no file exists at path.
func (t *Tree) UpdateFile(path, content string) error {
	path = Normalize(path)

	t.mutex.Lock()
	node, ok := t.nodes[path]
	if !ok || node.Kind != KindFile {
		t.mutex.Unlock()
		return errors.ErrFileNotFound(path)
	}

	node.Content = content
	event := t.bump(EventUpdated, path)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}

// Delete removes a file, or a directory and its entire subtree.
func (t *Tree) Delete(path string) error {
	path = Normalize(path)
	if path == Root {
		return errors.ErrRootImmutable()
	}

	t.mutex.Lock()
	node, ok := t.nodes[path]
	if !ok {
		t.mutex.Unlock()
		return errors.ErrNodeNotFound(path)
	}

	t.removeFromParent(path)
	delete(t.nodes, path)
	if node.Kind == KindDirectory {
		prefix := path + "/"
		for p := range t.nodes {
			if strings.HasPrefix(p, prefix) {
				delete(t.nodes, p)
			}
		}
	}

	event := t.bump(EventRemoved, path)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}

// Rename relocates a node, and its subtree for directories, preserving all
// descendant relative structure. Missing ancestors of the destination are
// created.
func (t *Tree) Rename(oldPath, newPath string) error {
	oldPath = Normalize(oldPath)
	newPath = Normalize(newPath)

	if oldPath == Root {
		return errors.ErrRootImmutable()
	}
	if IsDescendant(oldPath, newPath) {
		return errors.ErrCyclicMove(oldPath, newPath)
	}

	t.mutex.Lock()
	node, ok := t.nodes[oldPath]
	if !ok {
		t.mutex.Unlock()
		return errors.ErrNodeNotFound(oldPath)
	}
	if existing, occupied := t.nodes[newPath]; occupied {
		t.mutex.Unlock()
		return errors.ErrPathOccupied(newPath, existing.Kind.String())
	}

	if err := t.ensureAncestors(newPath); err != nil {
		t.mutex.Unlock()
		return err
	}

	t.removeFromParent(oldPath)
	delete(t.nodes, oldPath)

	node.Path = newPath
	node.Name = Base(newPath)
	t.insert(node)

	if node.Kind == KindDirectory {
		prefix := oldPath + "/"
		moved := make([]*Node, 0)
		for p, n := range t.nodes {
			if strings.HasPrefix(p, prefix) {
				moved = append(moved, n)
				delete(t.nodes, p)
			}
		}
		for _, n := range moved {
			n.Path = newPath + strings.TrimPrefix(n.Path, oldPath)
			t.nodes[n.Path] = n
		}
	}

	event := t.bump(EventRenamed, newPath)
	t.mutex.Unlock()
	t.notify(event)
	return nil
}

// Files yields file descriptors rooted at the given directory path. The
// sequence is lazily iterable and restartable; each restart observes the
// tree state current at that moment. Non-recursive mode yields only direct
// children.
func (t *Tree) Files(path string, recursive bool) iter.Seq[FileInfo] {
	return func(yield func(FileInfo) bool) {
		for _, info := range t.listFiles(path, recursive) {
			if !yield(info) {
				return
			}
		}
	}
}

func (t *Tree) listFiles(path string, recursive bool) []FileInfo {
	path = Normalize(path)

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	dir, ok := t.nodes[path]
	if !ok || dir.Kind != KindDirectory {
		return nil
	}

	var out []FileInfo
	var walk func(d *Node)
	walk = func(d *Node) {
		for _, name := range d.children {
			child, ok := t.nodes[Join(d.Path, name)]
			if !ok {
				continue
			}
			if child.Kind == KindFile {
				out = append(out, FileInfo{Path: child.Path, Name: child.Name})
			} else if recursive {
				walk(child)
			}
		}
	}
	walk(dir)
	return out
}

// Paths returns every node path in the tree, sorted, root included.
func (t *Tree) Paths() []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	out := make([]string, 0, len(t.nodes))
	for p := range t.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Watch returns a channel receiving tree change events. Delivery is
// best-effort: events to a full channel are dropped, the revision counter
// never is.
func (t *Tree) Watch() <-chan Event {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	ch := make(chan Event, 100)
	t.watchers = append(t.watchers, ch)
	return ch
}

// Unwatch removes a watcher channel and closes it.
func (t *Tree) Unwatch(ch <-chan Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for i, watcher := range t.watchers {
		if watcher == ch {
			close(watcher)
			t.watchers = append(t.watchers[:i], t.watchers[i+1:]...)
			break
		}
	}
}

// ensureAncestors creates all missing parent directories of path.
// Caller holds the write lock.
func (t *Tree) ensureAncestors(path string) error {
	segments := Split(path)
	current := ""
	for _, seg := range segments[:len(segments)-1] {
		current += "/" + seg
		if existing, ok := t.nodes[current]; ok {
			if existing.Kind == KindFile {
				return errors.ErrPathOccupied(current, KindFile.String())
			}
			continue
		}
		t.insert(&Node{Path: current, Name: seg, Kind: KindDirectory})
	}
	return nil
}

// insert adds node to the arena and registers it with its parent.
// Caller holds the write lock.
func (t *Tree) insert(node *Node) {
	t.nodes[node.Path] = node
	parent := t.nodes[Dir(node.Path)]
	parent.children = append(parent.children, node.Name)
}

// removeFromParent unregisters the path from its parent's child list.
// Caller holds the write lock.
func (t *Tree) removeFromParent(path string) {
	parent, ok := t.nodes[Dir(path)]
	if !ok {
		return
	}
	name := Base(path)
	for i, child := range parent.children {
		if child == name {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
}

// bump advances the revision and builds the event to broadcast.
// Caller holds the write lock.
func (t *Tree) bump(eventType EventType, path string) Event {
	t.revision++
	return Event{
		Type:      eventType,
		Path:      path,
		Revision:  t.revision,
		Timestamp: time.Now(),
	}
}

// notify broadcasts while holding the read lock so Unwatch's close, which
// takes the write lock, can never land between list traversal and a send.
// Sends are non-blocking, so the lock is held only briefly.
func (t *Tree) notify(event Event) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	for _, watcher := range t.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
