package services

import (
	"errors"
	"fmt"

	"github.com/alegny-health/api/internal/repositories"
)

// ErrorKind classifies service failures for the transport layer.
type ErrorKind string

const (
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	ErrorKindUnhandled    ErrorKind = "unhandled"
)

var (
	// ErrNotFound matches any error of kind not_found via errors.Is.
	ErrNotFound = &Error{Kind: ErrorKindNotFound, Message: "not found"}
	// ErrInvalidInput matches any error of kind invalid_input via errors.Is.
	ErrInvalidInput = &Error{Kind: ErrorKindInvalidInput, Message: "invalid input"}
	// ErrUnhandled matches any error of kind unhandled via errors.Is.
	ErrUnhandled = &Error{Kind: ErrorKindUnhandled, Message: "unhandled error"}
)

// Error is the typed failure returned by every service operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a target of the same kind that carries no cause, which covers the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a service error, or unhandled for anything else.
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ErrorKindUnhandled
}

func notFound(what string) error {
	return notFoundCause(what, nil)
}

func notFoundCause(what string, err error) error {
	return &Error{Kind: ErrorKindNotFound, Message: what + " not found", Err: err}
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: ErrorKindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func unhandled(message string, err error) error {
	return &Error{Kind: ErrorKindUnhandled, Message: message, Err: err}
}

// mapRepositoryError converts a persistence failure at the service boundary. what names the
// record for not-found messages.
func mapRepositoryError(err error, what string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return notFoundCause(what, err)
	}
	return unhandled(what+": repository failure", err)
}

// mapStockError names the side of a stock transaction that was missing.
func mapStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorPharmacyNotFound:
			return notFoundCause("pharmacy", err)
		case repositories.StockErrorDrugNotFound:
			return notFoundCause("drug", err)
		}
	}
	return mapRepositoryError(err, "stock")
}

// isConflict reports whether a repository rejected a write because the record moved on.
func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
