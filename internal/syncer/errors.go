package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joescharf/qasync/internal/filestore"
	"github.com/joescharf/qasync/internal/store"
)

var (
	// ErrRecordSkipped marks a record that could not be applied: an
	// unresolved reference, a malformed value or a store rejection.
	ErrRecordSkipped = errors.New("record skipped")
	// ErrValidation marks a record missing a required field.
	ErrValidation = errors.New("validation failed")
)

// FatalStoreError aborts the run. It wraps setup, schema and load failures.
type FatalStoreError struct {
	Op  string
	Err error
}

func (e *FatalStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalStoreError) Unwrap() error { return e.Err }

func fatal(op string, err error) error {
	return &FatalStoreError{Op: op, Err: err}
}

// IsFatal reports whether err should stop the run.
func IsFatal(err error) bool {
	var fe *FatalStoreError
	return errors.As(err, &fe)
}

// classify maps a per-record error onto the sync taxonomy. Fatal errors
// pass through untouched; a lost connection or a cancelled context becomes
// fatal.
func classify(err error) error {
	switch {
	case err == nil, IsFatal(err):
		return err
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fatal("store", err)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRecordSkipped):
		return err
	case errors.Is(err, filestore.ErrMissingField):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", ErrRecordSkipped, err)
	}
}

// skipf builds an ErrRecordSkipped error.
func skipf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrRecordSkipped, fmt.Sprintf(format, a...))
}

// missingf builds an ErrValidation error.
func missingf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, a...))
}

// isDuplicate reports a unique-key collision from the store.
func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
