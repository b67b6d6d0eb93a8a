package scraper

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the error taxonomy visible on scrape_run rows. Scrapers raise
// domain kinds; everything unclassified surfaces as KindInternal.
type Kind string

// Error kinds, each mapping to a distinct scrape_run.error_kind value.
const (
	KindCredentialError       Kind = "CredentialError"
	KindNotFound              Kind = "NotFound"
	KindBrowserUnavailable    Kind = "BrowserUnavailable"
	KindLoginError            Kind = "LoginError"
	KindCaptchaEncountered    Kind = "CaptchaEncountered"
	KindNavigationError       Kind = "NavigationError"
	KindDataSourceUnavailable Kind = "DataSourceUnavailable"
	KindTimeout               Kind = "Timeout"
	KindPersistenceError      Kind = "PersistenceError"
	KindInternal              Kind = "InternalError"
)

// Error carries a taxonomy kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a taxonomy kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies an error. Context deadline expiry maps to KindTimeout;
// anything without an explicit kind is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// RetryableWithBackoff reports whether the kind is transient and worth
// retrying with exponential backoff. Domain-level failures such as
// LoginError and CaptchaEncountered are deliberate non-retries: repeating
// them only locks accounts or trips anti-bot defenses harder.
func RetryableWithBackoff(kind Kind) bool {
	switch kind {
	case KindBrowserUnavailable, KindDataSourceUnavailable:
		return true
	default:
		return false
	}
}
