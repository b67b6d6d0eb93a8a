package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gridsight/utility-bill-worker/internal/scraper"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want scraper.Kind
	}{
		{"nil", nil, ""},
		{"classified", scraper.Errorf(scraper.KindLoginError, "bad password"), scraper.KindLoginError},
		{"wrapped classified", fmt.Errorf("scrape failed: %w", scraper.Errorf(scraper.KindCaptchaEncountered, "wall")), scraper.KindCaptchaEncountered},
		{"deadline", context.DeadlineExceeded, scraper.KindTimeout},
		{"wrapped deadline", fmt.Errorf("navigation: %w", context.DeadlineExceeded), scraper.KindTimeout},
		{"unclassified", errors.New("index out of range"), scraper.KindInternal},
		{"canceled", context.Canceled, scraper.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scraper.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	err := scraper.NewError(scraper.KindPersistenceError, errors.New("deadlock detected"))

	want := "PersistenceError: deadlock detected"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	var se *scraper.Error
	if !errors.As(err, &se) {
		t.Error("Expected errors.As to find the classified error")
	}
	if !errors.Is(err, err.Unwrap()) {
		t.Error("Expected the cause to remain reachable through Unwrap")
	}
}

func TestRetryableWithBackoff(t *testing.T) {
	retryable := []scraper.Kind{
		scraper.KindBrowserUnavailable,
		scraper.KindDataSourceUnavailable,
	}
	fatal := []scraper.Kind{
		scraper.KindCredentialError,
		scraper.KindNotFound,
		scraper.KindLoginError,
		scraper.KindCaptchaEncountered,
		scraper.KindNavigationError,
		scraper.KindTimeout,
		scraper.KindPersistenceError,
		scraper.KindInternal,
	}

	for _, k := range retryable {
		if !scraper.RetryableWithBackoff(k) {
			t.Errorf("Expected %s to be retryable", k)
		}
	}
	for _, k := range fatal {
		if scraper.RetryableWithBackoff(k) {
			t.Errorf("Expected %s not to be retryable", k)
		}
	}
}
