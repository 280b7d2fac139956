// Package errors defines the structured error types shared across the
// sketch engine.
//
// The taxonomy is small and closed: conflicts (a path is already occupied
// by an incompatible node kind), not-found (the operation target does not
// exist), invalid operations (structurally illegal requests such as
// deleting the root or moving a node into its own subtree), and transform
// failures (a single file's source is syntactically invalid). Tree store
// errors are synchronous and must be handled by the immediate caller;
// transform errors are isolated per file and never abort a pipeline run.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes an engine error.
type ErrorType string

const (
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInvalidOp  ErrorType = "invalid_operation"
	ErrorTypeTransform  ErrorType = "transform"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// SketchError is a structured error with type, code, and location context.
type SketchError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Path    string
	Line    int
	Column  int
}

// Error implements the error interface.
func (e *SketchError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		location := e.Path
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SketchError) Unwrap() error {
	return e.Cause
}

// Is matches errors by type and code so callers can compare against the
// sentinel constructors without caring about message text.
func (e *SketchError) Is(target error) bool {
	var t *SketchError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}

	return false
}

// WithLocation adds file location information.
func (e *SketchError) WithLocation(path string, line, column int) *SketchError {
	e.Path = path
	e.Line = line
	e.Column = column

	return e
}

// Common error codes.
const (
	ErrCodePathOccupied    = "ERR_PATH_OCCUPIED"
	ErrCodeFileNotFound    = "ERR_FILE_NOT_FOUND"
	ErrCodeNodeNotFound    = "ERR_NODE_NOT_FOUND"
	ErrCodeRootImmutable   = "ERR_ROOT_IMMUTABLE"
	ErrCodeCyclicMove      = "ERR_CYCLIC_MOVE"
	ErrCodeSyntax          = "ERR_SYNTAX"
	ErrCodeInvalidArgument = "ERR_INVALID_ARGUMENT"
	ErrCodeInternal        = "ERR_INTERNAL"
)

// NewConflictError creates a conflict error for an occupied path.
func NewConflictError(code, message string) *SketchError {
	return &SketchError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *SketchError {
	return &SketchError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewInvalidOpError creates an invalid-operation error.
func NewInvalidOpError(code, message string) *SketchError {
	return &SketchError{
		Type:    ErrorTypeInvalidOp,
		Code:    code,
		Message: message,
	}
}

// NewTransformError creates a per-file transform error.
func NewTransformError(message string, cause error) *SketchError {
	return &SketchError{
		Type:    ErrorTypeTransform,
		Code:    ErrCodeSyntax,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a validation error for malformed requests.
func NewValidationError(code, message string) *SketchError {
	return &SketchError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *SketchError {
	return &SketchError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsInvalidOp reports whether err is an invalid-operation error.
func IsInvalidOp(err error) bool {
	return isType(err, ErrorTypeInvalidOp)
}

// IsTransform reports whether err is a transform error.
func IsTransform(err error) bool {
	return isType(err, ErrorTypeTransform)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// As wraps the standard errors.As so callers need only one errors import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func isType(err error, t ErrorType) bool {
	var se *SketchError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// Helper constructors for the tree store's common failures.

// ErrPathOccupied reports that path is already occupied by a node of an
// incompatible kind.
func ErrPathOccupied(path, kind string) *SketchError {
	e := NewConflictError(ErrCodePathOccupied, "path already occupied by "+kind)
	e.Path = path
	return e
}

// ErrFileNotFound reports that no file exists at path.
func ErrFileNotFound(path string) *SketchError {
	e := NewNotFoundError(ErrCodeFileNotFound, "no file at path")
	e.Path = path
	return e
}

// ErrNodeNotFound reports that nothing exists at path.
func ErrNodeNotFound(path string) *SketchError {
	e := NewNotFoundError(ErrCodeNodeNotFound, "no node at path")
	e.Path = path
	return e
}

// ErrRootImmutable reports an attempt to delete or move the root.
func ErrRootImmutable() *SketchError {
	return NewInvalidOpError(ErrCodeRootImmutable, "the root directory cannot be removed or moved")
}

// ErrCyclicMove reports an attempt to move a node into its own subtree.
func ErrCyclicMove(src, dst string) *SketchError {
	e := NewInvalidOpError(ErrCodeCyclicMove, "destination "+dst+" is inside the source subtree")
	e.Path = src
	return e
}
