package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCursorClosed is returned when reading from a closed [Cursor].
	ErrCursorClosed = errors.New("cursor is closed")
	// ErrTargetNil is returned when a nil value is passed as a decoding
	// target.
	ErrTargetNil = errors.New("target interface is nil")
	// ErrNonPointer is returned when a decoding target is not a pointer.
	ErrNonPointer = errors.New("target should be a pointer")
	// ErrCannotModifyID is returned by [Modifier.Modify] when an update
	// would change a document _id.
	ErrCannotModifyID = errors.New("cannot modify _id")
	// ErrDuplicateKey is returned by stores when a document _id is already
	// in use.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidCommand is returned when a command document is empty or
	// its operation name cannot be determined.
	ErrInvalidCommand = errors.New("invalid command document")
	// ErrNamespaceExists is returned when creating a collection that
	// already exists.
	ErrNamespaceExists = errors.New("collection already exists")
	// ErrNamespaceNotFound is returned by admin operations against a
	// collection that does not exist.
	ErrNamespaceNotFound = errors.New("ns not found")
)

// ErrCommandNotSupported is returned when no handler is registered for a
// command name.
type ErrCommandNotSupported struct {
	Name string
}

// Error implements [error].
func (e ErrCommandNotSupported) Error() string {
	return fmt.Sprintf("command not supported: %q", e.Name)
}

// ErrInvalidCursor is returned by getMore against an unknown, exhausted or
// closed cursor id.
type ErrInvalidCursor struct {
	ID int64
}

// Error implements [error].
func (e ErrInvalidCursor) Error() string {
	return fmt.Sprintf("invalid cursor %d", e.ID)
}

// ErrUnsupportedOperator is returned before execution when a pipeline contains
// an unknown stage.
type ErrUnsupportedOperator struct {
	Operator string
}

// Error implements [error].
func (e ErrUnsupportedOperator) Error() string {
	return fmt.Sprintf("unsupported pipeline operator %q", e.Operator)
}

// ErrUnresolvedCollection is returned when a stage references a collection
// without naming it.
type ErrUnresolvedCollection struct {
	Stage string
}

// Error implements [error].
func (e ErrUnresolvedCollection) Error() string {
	return fmt.Sprintf("%s does not name a collection", e.Stage)
}

// ErrDecode wraps third party decoding errors.
type ErrDecode struct {
	Source any
	Target any
}

// Error implements [error].
func (e ErrDecode) Error() string {
	return fmt.Sprintf("cannot decode %T into %T", e.Source, e.Target)
}

// ValidationFailure is one structured schema violation.
type ValidationFailure struct {
	OperatorName string
	Field        string
	Expected     any
	Actual       any
	Reason       string
}

// ErrValidation is returned by [Validator.Validate].
type ErrValidation struct {
	Failures []ValidationFailure
}

// Error implements [error].
func (e ErrValidation) Error() string {
	reasons := make([]string, len(e.Failures))
	for n, f := range e.Failures {
		reasons[n] = f.Reason
	}
	return "document failed validation: " + strings.Join(reasons, "; ")
}
