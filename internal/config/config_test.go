package config

import "testing"

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://worker:pw@localhost:5432/bills")
	t.Setenv("AES_KEY", "0000000000000000000000000000000000000000000000000000000000000000")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServiceName != "utility-bill-worker" {
		t.Errorf("Expected default service name, got %s", cfg.ServiceName)
	}
	if cfg.Run.DefaultTimeoutSeconds != 600 {
		t.Errorf("Expected default timeout 600s, got %d", cfg.Run.DefaultTimeoutSeconds)
	}
	if cfg.Run.MaxRetries != 2 {
		t.Errorf("Expected default max retries 2, got %d", cfg.Run.MaxRetries)
	}
	if cfg.Artifacts.RetentionDays != 90 {
		t.Errorf("Expected default retention 90 days, got %d", cfg.Artifacts.RetentionDays)
	}
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Expected an error when DATABASE_URL is unset")
	}
}

func TestLoad_MissingAESKey(t *testing.T) {
	setRequired(t)
	t.Setenv("AES_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("Expected an error when AES_KEY is unset")
	}
}

func TestLoad_RejectsNonPositiveTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_TIMEOUT_SECONDS", "0")

	if _, err := Load(); err == nil {
		t.Error("Expected an error for a zero run timeout")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_TIMEOUT_SECONDS", "120")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("BROWSER_ENDPOINT", "http://selenium-hub:4444/wd/hub")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Run.DefaultTimeoutSeconds != 120 {
		t.Errorf("Expected timeout 120s, got %d", cfg.Run.DefaultTimeoutSeconds)
	}
	if cfg.Run.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.Run.MaxRetries)
	}
	if cfg.Browser.Endpoint != "http://selenium-hub:4444/wd/hub" {
		t.Errorf("Unexpected browser endpoint %s", cfg.Browser.Endpoint)
	}
}
