package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/artifact"
)

// DefaultNavigationTimeout bounds a single page load; the overall run budget
// is enforced separately by the orchestrator's watchdog.
const DefaultNavigationTimeout = 60 * time.Second

// Factory acquires remote WebDriver sessions from a fixed endpoint.
type Factory struct {
	endpoint string
	logger   *zap.Logger
}

// NewFactory creates a session factory for the given WebDriver endpoint.
func NewFactory(endpoint string, logger *zap.Logger) *Factory {
	return &Factory{endpoint: endpoint, logger: logger}
}

// New acquires a browser session with a private per-run download directory.
// The caller owns the session and must release it on every exit path.
func (f *Factory) New(downloadDir string) (*Session, error) {
	if f.endpoint == "" {
		return nil, fmt.Errorf("browser endpoint is not configured")
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chrome.Capabilities{
		Args: []string{"--headless", "--no-sandbox", "--disable-gpu", "--window-size=1440,900"},
		Prefs: map[string]interface{}{
			"download.default_directory":   downloadDir,
			"download.prompt_for_download": false,
			"plugins.always_open_pdf_externally": true,
		},
	})

	wd, err := selenium.NewRemote(caps, f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire browser session: %w", err)
	}

	if err := wd.SetPageLoadTimeout(DefaultNavigationTimeout); err != nil {
		wd.Quit()
		return nil, fmt.Errorf("failed to set page load timeout: %w", err)
	}
	if err := wd.SetImplicitWaitTimeout(10 * time.Second); err != nil {
		wd.Quit()
		return nil, fmt.Errorf("failed to set implicit wait timeout: %w", err)
	}

	f.logger.Info("browser session acquired", zap.String("endpoint", f.endpoint))

	return &Session{
		wd:          wd,
		downloadDir: downloadDir,
		logger:      f.logger,
	}, nil
}

// Session wraps one remote browser with guaranteed single release. The
// session is single-threaded; callers must not share it across goroutines
// except to call Close.
type Session struct {
	wd          selenium.WebDriver
	downloadDir string
	logger      *zap.Logger
	closeOnce   sync.Once
	closeErr    error
}

// Driver exposes the underlying WebDriver for scraper navigation.
func (s *Session) Driver() selenium.WebDriver {
	return s.wd
}

// DownloadDir returns the private per-run download directory.
func (s *Session) DownloadDir() string {
	return s.downloadDir
}

// Get navigates to a URL.
func (s *Session) Get(url string) error {
	if err := s.wd.Get(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitForElement polls until the CSS selector matches or the timeout fires.
func (s *Session) WaitForElement(selector string, timeout time.Duration) (selenium.WebElement, error) {
	var el selenium.WebElement
	err := s.wd.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		found, findErr := wd.FindElement(selenium.ByCSSSelector, selector)
		if findErr != nil {
			return false, nil
		}
		el = found
		return true, nil
	}, timeout)
	if err != nil {
		return nil, fmt.Errorf("element '%s' did not appear within %s: %w", selector, timeout, err)
	}
	return el, nil
}

// Screenshot returns a PNG capture of the current page.
func (s *Session) Screenshot() ([]byte, error) {
	return s.wd.Screenshot()
}

// PageSource returns the current page HTML.
func (s *Session) PageSource() (string, error) {
	return s.wd.PageSource()
}

// CaptureFailure records a final screenshot and page-source snapshot into the
// artifact set. Best effort: capture failures are logged, never propagated,
// so they cannot mask the original error.
func (s *Session) CaptureFailure(set *artifact.Set) {
	if png, err := s.wd.Screenshot(); err != nil {
		s.logger.Warn("failed to capture failure screenshot", zap.Error(err))
	} else {
		set.Add(artifact.KindScreenshot, "png", png)
	}

	if src, err := s.wd.PageSource(); err != nil {
		s.logger.Warn("failed to capture page source", zap.Error(err))
	} else {
		set.Add(artifact.KindHTML, "html", []byte(src))
	}
}

// IndexDownloads adds every file in the download directory to the artifact
// set. Called after a scrape so downloaded statements are kept for audit.
func (s *Session) IndexDownloads(set *artifact.Set) error {
	entries, err := os.ReadDir(s.downloadDir)
	if err != nil {
		return fmt.Errorf("failed to read download directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.downloadDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read download %s: %w", entry.Name(), err)
		}
		ext := strings.TrimPrefix(filepath.Ext(entry.Name()), ".")
		if ext == "" {
			ext = "bin"
		}
		set.Add(artifact.KindDownload, ext, data)
	}
	return nil
}

// Close releases the remote session. Safe to call from the watchdog while a
// navigation is in flight; subsequent calls are no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := s.wd.Quit(); err != nil {
			s.logger.Warn("failed to quit browser session", zap.Error(err))
			s.closeErr = err
			return
		}
		s.logger.Info("browser session released")
	})
	return s.closeErr
}
