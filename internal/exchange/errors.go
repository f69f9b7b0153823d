package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies upstream failures so callers can pick a retry policy.
// The adapter never retries on its own.
type ErrorKind string

const (
	// KindTransient covers network failures, timeouts and 5xx responses.
	KindTransient ErrorKind = "transient_upstream"
	// KindPermanent covers 4xx responses other than rate limiting.
	KindPermanent ErrorKind = "permanent_upstream"
	// KindRateLimited covers 429 and venue ban responses.
	KindRateLimited ErrorKind = "rate_limited"
)

// Error is the tagged error returned by all adapter operations.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	RetryAfter time.Duration // venue hint, zero when absent
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("exchange: %s (status %d): %s", e.Kind, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the caller.
func IsTransient(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindTransient
	}
	return false
}

// IsRateLimited reports whether err is a venue rate-limit response.
func IsRateLimited(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind == KindRateLimited
	}
	return false
}

func transientErr(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

func classifyStatus(status int, body string, retryAfter time.Duration) *Error {
	switch {
	case status == 429 || status == 418:
		return &Error{Kind: KindRateLimited, StatusCode: status, Body: body, RetryAfter: retryAfter}
	case status >= 500:
		return &Error{Kind: KindTransient, StatusCode: status, Body: body}
	default:
		return &Error{Kind: KindPermanent, StatusCode: status, Body: body}
	}
}
