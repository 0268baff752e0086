// Package resilience provides the error taxonomy, circuit breakers, retry
// policies, and recovery actions that guard every external dependency call.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error by its cause so that callers can choose an
// appropriate reaction instead of inspecting error strings.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindRateLimit   Kind = "rate_limit"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the typed error carried through the processing pipeline. Op names
// the guarded operation ("tool:web_search", "llm:manager"); RetryAfter is the
// server-suggested wait for rate limits, zero otherwise.
type Error struct {
	Kind        Kind
	Severity    Severity
	Op          string
	Message     string
	RetryAfter  time.Duration
	Recovered   bool
	RecoveredBy string
	Suggestions []string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{
		Kind:     kind,
		Severity: defaultSeverity(kind),
		Op:       op,
		Message:  message,
		Err:      err,
	}
}

func defaultSeverity(kind Kind) Severity {
	switch kind {
	case KindValidation, KindNotFound:
		return SeverityLow
	case KindRateLimit:
		return SeverityMedium
	case KindAuth:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Classify extracts the Kind of any error, treating unknown errors
// as internal faults.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Retryable reports whether an error kind is worth retrying. Validation,
// auth, and not-found failures are deterministic and never retried.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindNetwork, KindRateLimit, KindUnavailable, KindInternal:
		return true
	default:
		return false
	}
}

// FromHTTPStatus maps an HTTP status code from an upstream service to a
// typed error.
func FromHTTPStatus(status int, op, body string) *Error {
	var kind Kind
	switch {
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 404:
		kind = KindNotFound
	case status == 429:
		kind = KindRateLimit
	case status == 400 || status == 422:
		kind = KindValidation
	case status >= 500:
		kind = KindUnavailable
	default:
		kind = KindInternal
	}
	return NewError(kind, op, fmt.Sprintf("upstream returned %d: %s", status, truncate(body, 200)), nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
