package errors

import (
	"errors"
	"fmt"
)

// Record errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrEmptyName = errors.New("file name is empty")
)

// Remote store errors.
var (
	ErrStoreUnavailable = errors.New("remote store unavailable")
)

// StoreError reports a failed remote store call: unreachable endpoint,
// rejected credentials or a missing object. It is never retried inside
// the module.
type StoreError struct {
	Op   string
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("store %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// RepositoryError reports a failed metadata repository call (disk,
// schema, connection). A reconciliation pass stops at the first one.
type RepositoryError struct {
	Op   string
	Name string
	Err  error
}

func (e *RepositoryError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("repository %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// EventError reports a single file event (save, update, delete) that
// could not be applied to the repository. Err is either ErrNotFound or
// the underlying repository failure.
type EventError struct {
	Op   string
	Name string
	Err  error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s file metadata %s: %v", e.Op, e.Name, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }
