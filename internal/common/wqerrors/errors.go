// Package wqerrors contains the errors returned by the work queue.
//
// Callers classify errors with errors.As (or Classify) rather than comparing messages.
// Operations that process a batch of records return a *multierror.Error from package
// github.com/hashicorp/go-multierror wrapping the individual failures, alongside the
// records that were processed successfully.
package wqerrors

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrSpecRejected is returned when a specification fails validation before splitting,
// e.g. malformed site lists, a run whitelist with no overlap or an unknown dataset.
// Nothing is persisted when this error is returned.
type ErrSpecRejected struct {
	Request string      // Request name
	Field   string      // Name of the offending field, e.g. "SiteWhitelist"
	Value   interface{} // The rejected value
	Message string      // Optional explanation
}

func (err *ErrSpecRejected) Error() (s string) {
	s = fmt.Sprintf("specification %q rejected: value %v is invalid for field %q", err.Request, err.Value, err.Field)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return
}

// ErrUnknownRequest is returned when an administrative operation names a request this
// queue instance has never seen.
type ErrUnknownRequest struct {
	Request string
	Queue   string
}

func (err *ErrUnknownRequest) Error() string {
	if err.Queue != "" {
		return fmt.Sprintf("request %q is unknown to queue %q", err.Request, err.Queue)
	}
	return fmt.Sprintf("request %q is unknown", err.Request)
}

// ErrInvalidTransition is returned when a status change is not allowed by the state machine.
type ErrInvalidTransition struct {
	Id   string
	From string
	To   string
}

func (err *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("record %s cannot move from %s to %s", err.Id, err.From, err.To)
}

// ErrConflict is returned by a backend when a compare-and-swap finds a newer revision.
// It never leaves the queue package: conflicts are retried or resolved.
type ErrConflict struct {
	Table            string
	Id               string
	ExpectedRevision int64
	ActualRevision   int64
}

func (err *ErrConflict) Error() string {
	return fmt.Sprintf(
		"conflicting update of %s record %s: expected revision %d but found %d",
		err.Table, err.Id, err.ExpectedRevision, err.ActualRevision)
}

// ErrNotFound is returned when a record looked up by id doesn't exist.
type ErrNotFound struct {
	Table string
	Id    string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("%s record %q does not exist", err.Table, err.Id)
}

// ErrNotArchivable is returned when deletion is requested for a request that is not yet
// terminal everywhere or not yet confirmed archivable.
type ErrNotArchivable struct {
	Request string
	Message string
}

func (err *ErrNotArchivable) Error() string {
	s := fmt.Sprintf("request %q cannot be deleted", err.Request)
	if err.Message != "" {
		s = s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// Kind is a coarse classification of an error, used e.g. for exit codes.
type Kind int

const (
	KindNone Kind = iota
	KindSpecRejected
	KindUnknownRequest
	KindInvalidTransition
	KindConflict
	KindNotFound
	KindNotArchivable
	KindUnknown
)

// Classify looks through the chain of errors and returns the kind of the first known error.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	{
		var e *ErrSpecRejected
		if errors.As(err, &e) {
			return KindSpecRejected
		}
	}
	{
		var e *ErrUnknownRequest
		if errors.As(err, &e) {
			return KindUnknownRequest
		}
	}
	{
		var e *ErrInvalidTransition
		if errors.As(err, &e) {
			return KindInvalidTransition
		}
	}
	{
		var e *ErrConflict
		if errors.As(err, &e) {
			return KindConflict
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return KindNotFound
		}
	}
	{
		var e *ErrNotArchivable
		if errors.As(err, &e) {
			return KindNotArchivable
		}
	}
	return KindUnknown
}

// IsConflict returns true if err is, or wraps, an *ErrConflict.
func IsConflict(err error) bool {
	return Classify(err) == KindConflict
}

// IsNotFound returns true if err is, or wraps, an *ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// Errors flattens err into its individual errors. A *multierror.Error is unpacked,
// anything else is returned as a single-element slice. Nil returns nil.
func Errors(err error) []error {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.WrappedErrors()
	}
	return []error{err}
}
