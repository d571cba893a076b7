package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies adapter failures. Kinds, not concrete types, drive the
// retry policy and breaker accounting.
type ErrorKind string

const (
	KindTransient        ErrorKind = "transient"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindNotFound         ErrorKind = "not_found"
	KindValidation       ErrorKind = "validation"
	KindPermanent        ErrorKind = "permanent"
	KindCircuitOpen      ErrorKind = "circuit_open"
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
	KindInternal         ErrorKind = "internal"
)

// SourceError is the error every adapter path reports through. RetryAfter is
// only meaningful for rate_limited errors.
type SourceError struct {
	Source     string
	Op         string
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Source, e.Op, e.Kind)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewError wraps err with a source, operation and kind.
func NewError(source, op string, kind ErrorKind, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Kind: kind, Err: err}
}

// NewRateLimited carries the upstream Retry-After hint when provided.
func NewRateLimited(source, op string, retryAfter time.Duration, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// KindOf classifies an arbitrary error. Context cancellation maps to
// deadline_exceeded, unknown errors to internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// RetryAfterOf extracts the Retry-After hint, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var se *SourceError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Retryable reports whether the retry policy may reissue the call.
// unauthorized is handled separately: the owning adapter performs exactly one
// forced token refresh before surfacing it.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}

// CountsAsBreakerFailure reports whether the error should advance the
// source's circuit breaker. Caller mistakes (validation), misses (not_found)
// and locally produced short circuits do not.
func CountsAsBreakerFailure(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindPermanent, KindUnauthorized, KindDeadlineExceeded, KindInternal:
		return true
	default:
		return false
	}
}

// ClassifyHTTP maps an upstream status code to an error kind.
func ClassifyHTTP(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindValidation
	default:
		return KindInternal
	}
}
