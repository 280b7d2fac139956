// Package ops defines the fixed mutation vocabulary that external
// automation layers use to edit a project tree. Each operation translates
// 1:1 onto a tree store call; store errors propagate synchronously to the
// caller and never silently no-op.
package ops

import (
	"strings"

	"github.com/tinkerbench/sketch/internal/errors"
	"github.com/tinkerbench/sketch/internal/vfs"
)

// OpType enumerates the supported operations.
type OpType string

const (
	// OpWrite creates a file or overwrites its content.
	OpWrite OpType = "write"
	// OpReplace performs a string find-and-replace within a file.
	OpReplace OpType = "replace"
	// OpInsert inserts content at a 1-based line within a file.
	OpInsert OpType = "insert"
	// OpRename relocates a node and its subtree.
	OpRename OpType = "rename"
	// OpDelete removes a node and its subtree.
	OpDelete OpType = "delete"
)

// Op is one mutation request.
type Op struct {
	Type    OpType `json:"type"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Find    string `json:"find,omitempty"`
	Replace string `json:"replace,omitempty"`
	Line    int    `json:"line,omitempty"`
	NewPath string `json:"new_path,omitempty"`
}

// Apply executes one operation against the tree.
func Apply(tree *vfs.Tree, op Op) error {
	switch op.Type {
	case OpWrite:
		return tree.CreateFile(op.Path, op.Content)

	case OpReplace:
		return applyReplace(tree, op)

	case OpInsert:
		return applyInsert(tree, op)

	case OpRename:
		return tree.Rename(op.Path, op.NewPath)

	case OpDelete:
		return tree.Delete(op.Path)

	default:
		return errors.NewValidationError(errors.ErrCodeInvalidArgument,
			"unknown operation type: "+string(op.Type))
	}
}

// ApplyAll executes operations in order, stopping at the first failure.
// It returns the number of operations applied.
func ApplyAll(tree *vfs.Tree, operations []Op) (int, error) {
	for i, op := range operations {
		if err := Apply(tree, op); err != nil {
			return i, err
		}
	}
	return len(operations), nil
}

func applyReplace(tree *vfs.Tree, op Op) error {
	content, ok := tree.ReadFile(op.Path)
	if !ok {
		return errors.ErrFileNotFound(vfs.Normalize(op.Path))
	}
	if op.Find == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidArgument,
			"replace operation requires a non-empty find string")
	}
	if !strings.Contains(content, op.Find) {
		e := errors.NewValidationError(errors.ErrCodeInvalidArgument,
			"find string not present in file")
		e.Path = vfs.Normalize(op.Path)
		return e
	}
	return tree.UpdateFile(op.Path, strings.ReplaceAll(content, op.Find, op.Replace))
}

// applyInsert inserts content before the given 1-based line. A line past
// the end of the file appends.
func applyInsert(tree *vfs.Tree, op Op) error {
	content, ok := tree.ReadFile(op.Path)
	if !ok {
		return errors.ErrFileNotFound(vfs.Normalize(op.Path))
	}
	if op.Line < 1 {
		return errors.NewValidationError(errors.ErrCodeInvalidArgument,
			"insert line must be 1 or greater")
	}

	lines := strings.Split(content, "\n")
	at := op.Line - 1
	if at > len(lines) {
		at = len(lines)
	}

	updated := make([]string, 0, len(lines)+1)
	updated = append(updated, lines[:at]...)
	updated = append(updated, op.Content)
	updated = append(updated, lines[at:]...)

	return tree.UpdateFile(op.Path, strings.Join(updated, "\n"))
}
