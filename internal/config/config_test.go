package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.Gemini.VisionModel != "gemini-2.5-pro" {
		t.Errorf("vision model = %q", cfg.Gemini.VisionModel)
	}
	if cfg.Budget.HardCapSeconds != 180 {
		t.Errorf("hard cap = %d", cfg.Budget.HardCapSeconds)
	}

	// The defaults file must have been written for the next run.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("defaults not written: %v", err)
	}
}

func TestLoadReadsFileAndAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"http_addr": ":9000", "gemini": {"api_key": "from-file"}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("OMAKASE_PUBLIC_BASE_URL", "https://menu.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Errorf("file value not applied: %q", cfg.HTTPAddr)
	}
	if cfg.Gemini.APIKey != "from-env" {
		t.Errorf("env override lost: %q", cfg.Gemini.APIKey)
	}
	if cfg.PublicBaseURL != "https://menu.example.com" {
		t.Errorf("base url = %q", cfg.PublicBaseURL)
	}
	// File values not overridden by env keep defaults merged in.
	if cfg.Budget.PerSegmentSeconds != 75 {
		t.Errorf("per segment = %d", cfg.Budget.PerSegmentSeconds)
	}
}

func TestLoadRejectsBadChatID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
