package types

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a cycle trigger arrives while a run is already
// active. Triggers are rejected, never queued.
var ErrBusy = errors.New("optimization cycle already running")

// ErrCancelled marks a run that was cooperatively cancelled between phases
var ErrCancelled = errors.New("cycle cancelled")

// ErrNotFound is returned by storage lookups for unknown ids
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed principle, suggestion, or event data.
// The rejected operation has no effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExternalCallError reports a configuration-apply call that failed or
// timed out. Recorded per suggestion; never aborts the phase or run.
type ExternalCallError struct {
	Target string
	Err    error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("apply to %s failed: %v", e.Target, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// StorageError reports an evidence store or registry persistence failure.
// Monitoring degrades to unknown health on these rather than crashing.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorage reports whether err is (or wraps) a StorageError
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
