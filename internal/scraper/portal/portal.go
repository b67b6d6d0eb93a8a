// Package portal holds the shared scaffolding for scrapers that drive a live
// utility web portal: form login, anti-bot detection and navigation error
// classification. Concrete per-utility scrapers compose these helpers.
package portal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/internal/secrets"
)

// LoginSpec describes a portal's login page in CSS selectors.
type LoginSpec struct {
	URL              string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string

	// CaptchaSelector matches the portal's anti-bot wall when present.
	CaptchaSelector string

	// FailureSelector matches the bad-credentials banner.
	FailureSelector string

	// SuccessSelector matches an element that only exists after login.
	SuccessSelector string

	// WaitTimeout bounds each element wait; zero means 30s.
	WaitTimeout time.Duration
}

// SubmitLogin performs a form login and classifies the outcome. A missing
// login form is a NavigationError, an anti-bot wall is CaptchaEncountered,
// and a rejected password is LoginError.
func SubmitLogin(sess scraper.BrowserSession, spec LoginSpec, creds *secrets.Credentials) error {
	timeout := spec.WaitTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if err := sess.Get(spec.URL); err != nil {
		return classifyPage(sess, err)
	}

	if spec.CaptchaSelector != "" {
		if _, err := sess.WaitForElement(spec.CaptchaSelector, 2*time.Second); err == nil {
			return scraper.Errorf(scraper.KindCaptchaEncountered, "captcha wall on login page %s", spec.URL)
		}
	}

	userField, err := sess.WaitForElement(spec.UsernameSelector, timeout)
	if err != nil {
		return classifyPage(sess, err)
	}
	passField, err := sess.WaitForElement(spec.PasswordSelector, timeout)
	if err != nil {
		return classifyPage(sess, err)
	}

	if err := userField.SendKeys(creds.Username); err != nil {
		return scraper.NewError(scraper.KindNavigationError, err)
	}
	if err := passField.SendKeys(creds.Password); err != nil {
		return scraper.NewError(scraper.KindNavigationError, err)
	}

	submit, err := sess.WaitForElement(spec.SubmitSelector, timeout)
	if err != nil {
		return classifyPage(sess, err)
	}
	if err := submit.Click(); err != nil {
		return scraper.NewError(scraper.KindNavigationError, err)
	}

	if _, err := sess.WaitForElement(spec.SuccessSelector, timeout); err != nil {
		if spec.FailureSelector != "" {
			if _, failErr := sess.WaitForElement(spec.FailureSelector, 2*time.Second); failErr == nil {
				return scraper.Errorf(scraper.KindLoginError, "portal rejected credentials for %s", spec.URL)
			}
		}
		if spec.CaptchaSelector != "" {
			if _, capErr := sess.WaitForElement(spec.CaptchaSelector, 2*time.Second); capErr == nil {
				return scraper.Errorf(scraper.KindCaptchaEncountered, "captcha wall after login submit on %s", spec.URL)
			}
		}
		return classifyPage(sess, fmt.Errorf("login outcome unknown: %w", err))
	}

	return nil
}

// maintenanceMarkers are page-source fragments that signal upstream
// unavailability rather than a scraper defect.
var maintenanceMarkers = []string{
	"scheduled maintenance",
	"temporarily unavailable",
	"service unavailable",
	"502 bad gateway",
	"503 service",
	"504 gateway",
}

// classifyPage inspects the current page to decide between an upstream
// outage and an ordinary navigation failure.
func classifyPage(sess scraper.BrowserSession, err error) error {
	if src, srcErr := sess.PageSource(); srcErr == nil {
		lower := strings.ToLower(src)
		for _, marker := range maintenanceMarkers {
			if strings.Contains(lower, marker) {
				return scraper.NewError(scraper.KindDataSourceUnavailable, err)
			}
		}
	}
	return scraper.NewError(scraper.KindNavigationError, err)
}

// ClassifyNavigation wraps an unclassified navigation failure as a
// NavigationError, leaving already-classified errors untouched.
func ClassifyNavigation(err error) error {
	if err == nil {
		return nil
	}
	var se *scraper.Error
	if errors.As(err, &se) {
		return err
	}
	return scraper.NewError(scraper.KindNavigationError, err)
}
