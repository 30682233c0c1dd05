// Package faults defines the behavioural error taxonomy shared by the
// ingestion pipeline, the providers, and the HTTP layer.
//
// Errors are classified by how the system must react to them, not by where
// they came from:
//
//   - transient external faults are retried with bounded backoff inside the
//     same pipeline run;
//   - permanent external faults terminate the current video and let the rest
//     of the account proceed;
//   - data-integrity faults are fatal for the current video (and for
//     [IndexWrite], the current creator);
//   - protocol faults surface as HTTP 4xx;
//   - everything uncategorised becomes [Internal] and surfaces as HTTP 500.
//
// Providers and components wrap their errors with [Wrap] (or create leaf
// errors with [New]); only [KindOf] and the HTTP mapping ever inspect kinds.
// Plain wrapped errors without a kind classify as [Internal].
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the behavioural class of an error. The string values are stable:
// they appear in persisted ProcessedVideoRecords and in API responses.
type Kind string

const (
	// Transient external — retried with bounded exponential backoff.

	Network              Kind = "NetworkError"
	RateLimited          Kind = "RateLimited"
	TranscriptionTimeout Kind = "TranscriptionTimeout"

	// Permanent external — terminal for the video, account proceeds.

	NotFound     Kind = "NotFound"
	AuthRequired Kind = "AuthRequired"
	Unsupported  Kind = "Unsupported"

	// Data integrity — fatal for the video; IndexWrite fails the creator.

	IndexWrite        Kind = "IndexWriteError"
	CorruptTranscript Kind = "CorruptTranscript"
	EmbeddingMismatch Kind = "EmbeddingMismatch"

	// Protocol — bad requests and illegal job transitions, HTTP 4xx.

	Validation         Kind = "ValidationError"
	JobNotFound        Kind = "JobNotFound"
	JobNotPausable     Kind = "JobNotPausable"
	JobNotResumable    Kind = "JobNotResumable"
	JobAlreadyTerminal Kind = "JobAlreadyTerminal"

	// Internal — everything uncategorised, HTTP 500.

	Internal Kind = "InternalError"
)

// Transient reports whether errors of this kind should be retried within the
// same pipeline run.
func (k Kind) Transient() bool {
	switch k {
	case Network, RateLimited, TranscriptionTimeout:
		return true
	}
	return false
}

// FailsCreator reports whether this kind aborts the whole creator rather
// than just the current video. Only index-write failures do: once the
// account index cannot be updated, further work cannot be tracked reliably.
func (k Kind) FailsCreator() bool { return k == IndexWrite }

// HTTPStatus maps the kind to the status code the control plane responds
// with when an operation fails with it.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case NotFound, JobNotFound:
		return http.StatusNotFound
	case JobNotPausable, JobNotResumable, JobAlreadyTerminal:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a kinded error. It wraps an underlying cause (which may be nil
// for leaf errors) and records the operation that produced it.
type Error struct {
	// Kind is the behavioural class.
	Kind Kind

	// Op names the failing operation, "component: action" style.
	Op string

	// Err is the wrapped cause, nil for leaf errors created with New.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a leaf error of the given kind.
func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

// Newf creates a leaf error of the given kind with a formatted cause
// message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to err. A nil err returns nil so call
// sites can wrap unconditionally.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err: the kind of the outermost [*Error] in its
// chain, [Internal] for any other non-nil error, and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is matches two kinded errors by kind alone, so errors.Is works across
// operations that share a kind.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}
