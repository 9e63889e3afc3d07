/*
errors.go - Error taxonomy for the billing engine

CATEGORIES:
  ErrNotFound:          scope, tenant or obligation id does not resolve
  ErrValidation:        malformed input (missing field, bad period, negative amount)
  ErrInvalidOperation:  the record exists but its state forbids the action
                        (editing or cancelling a cancelled obligation)
  ErrDuplicateObligation: a store rejected a second monthly obligation for
                        the same tenant and period; the ledger turns this
                        into a skip, callers never see it from generation

  Room type misses and already-existing obligations are not errors at all.
  They surface as skips with zero created records.

USAGE:
  Errors are built with cockroachdb/errors and marked with a sentinel:

    return errors.Mark(errors.Newf("obligation %s not found", id), ErrNotFound)

  Test with IsNotFound/IsValidation/IsInvalidOperation (or errors.Is from
  cockroachdb/errors), which follow marks.
*/
package billing

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrDuplicateObligation = errors.New("monthly obligation already exists for period")
)

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsInvalidOperation(err error) bool { return errors.Is(err, ErrInvalidOperation) }
func IsDuplicate(err error) bool        { return errors.Is(err, ErrDuplicateObligation) }

// NotFoundError reports a missing record of kind what.
func NotFoundError(what string, id any) error {
	return errors.Mark(
		errors.WithHintf(errors.Newf("%s %v not found", what, id), "%s %v does not exist", what, id),
		ErrNotFound)
}

func ValidationError(msg string) error {
	return errors.Mark(errors.WithHint(errors.New(msg), msg), ErrValidation)
}

func InvalidOperationError(msg string) error {
	return errors.Mark(errors.WithHint(errors.New(msg), msg), ErrInvalidOperation)
}
