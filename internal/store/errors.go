package store

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is wrapped by PersistenceError when there is nothing to write.
var ErrEmptyInput = errors.New("no data to persist")

// PersistenceError reports a failed write. Path is empty when the failure
// happened before a file name was chosen.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
