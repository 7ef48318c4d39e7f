package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a whisper or embedding is absent or logically expired.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input. It is never retried.
	ErrValidation = errors.New("validation error")

	// ErrDimensionMismatch is returned when a vector length differs from the store dimension.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrValidation)

	// ErrStorage marks failures of the underlying database.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a driver error with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
