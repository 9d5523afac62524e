package paper

import (
	"errors"
	"fmt"
)

// StorageError wraps a failed record operation. Workers treat it as a
// transient per-item failure: skip the item, keep the loop running.
type StorageError struct {
	Op       string
	Identity string
	Err      error
}

func (e *StorageError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Identity, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// SourceFailure wraps an error raised by a source collaborator. It propagates
// to the supervisor as a FAILED worker and triggers rollback plus retry.
type SourceFailure struct {
	Source string
	Err    error
}

func (e *SourceFailure) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceFailure) Unwrap() error { return e.Err }
