package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_PATH", "INPUT_DIR", "DB_PATH", "HTTP_PORT", "ENABLE_WATCHER",
		"STRICT_CONFIG", "WINDOW_SECONDS", "LOOKBACK_WINDOWS",
		"MAX_CONCURRENT_SESSIONS", "MAX_RETRIES", "BACKOFF_BASE_MS",
		"ANALYSIS_MODEL", "ANALYSIS_BASE_URL", "OPENAI_BASE_URL",
		"ANALYSIS_REASONING_EFFORT", "ANALYSIS_VERBOSITY", "SYSTEM_PROMPT_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != ":8000" {
		t.Errorf("port = %q", cfg.HTTPPort)
	}
	if cfg.Processing.WindowSeconds != 30 {
		t.Errorf("window seconds = %v", cfg.Processing.WindowSeconds)
	}
	if cfg.Processing.LookbackWindows != 3 {
		t.Errorf("lookback = %d", cfg.Processing.LookbackWindows)
	}
	if cfg.Processing.MaxConcurrentSessions != 3 {
		t.Errorf("concurrency = %d", cfg.Processing.MaxConcurrentSessions)
	}
	if cfg.Analysis.Model != "gpt-5" || cfg.Analysis.ReasoningEffort != "medium" {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if !cfg.EnableWatcher {
		t.Error("watcher should default on")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDOW_SECONDS", "45.5")
	t.Setenv("LOOKBACK_WINDOWS", "5")
	t.Setenv("MAX_RETRIES", "4")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ANALYSIS_MODEL", "gpt-5-mini")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:1234")
	t.Setenv("ENABLE_WATCHER", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.WindowSeconds != 45.5 {
		t.Errorf("window seconds = %v", cfg.Processing.WindowSeconds)
	}
	if cfg.Processing.LookbackWindows != 5 || cfg.Processing.MaxRetries != 4 {
		t.Errorf("processing = %+v", cfg.Processing)
	}
	if cfg.HTTPPort != ":9090" {
		t.Errorf("port = %q, want colon prefix added", cfg.HTTPPort)
	}
	if cfg.Analysis.Model != "gpt-5-mini" || cfg.Analysis.BaseURL != "http://localhost:1234" {
		t.Errorf("analysis = %+v", cfg.Analysis)
	}
	if cfg.EnableWatcher {
		t.Error("watcher should be disabled")
	}
}

func TestConcurrencyClamped(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_CONCURRENT_SESSIONS", "99")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.MaxConcurrentSessions != 16 {
		t.Errorf("concurrency = %d, want clamp to 16", cfg.Processing.MaxConcurrentSessions)
	}

	t.Setenv("MAX_CONCURRENT_SESSIONS", "0")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.MaxConcurrentSessions != 1 {
		t.Errorf("concurrency = %d, want clamp to 1", cfg.Processing.MaxConcurrentSessions)
	}
}

func TestStrictConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRICT_CONFIG", "true")
	t.Setenv("WINDOW_SECONDS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error under strict config")
	}
}

func TestLenientConfigKeepsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("WINDOW_SECONDS", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.WindowSeconds != 30 {
		t.Errorf("window seconds = %v, want default kept", cfg.Processing.WindowSeconds)
	}
}

func TestLoadFileConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
input_dir: /data/recordings
http_port: "7070"
processing:
  window_seconds: 20
  lookback_windows: 2
analysis:
  model: gpt-5-nano
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InputDir != "/data/recordings" {
		t.Errorf("input dir = %q", cfg.InputDir)
	}
	if cfg.HTTPPort != ":7070" {
		t.Errorf("port = %q", cfg.HTTPPort)
	}
	if cfg.Processing.WindowSeconds != 20 || cfg.Processing.LookbackWindows != 2 {
		t.Errorf("processing = %+v", cfg.Processing)
	}
	if cfg.Analysis.Model != "gpt-5-nano" {
		t.Errorf("model = %q", cfg.Analysis.Model)
	}
}

func TestSystemPromptFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("You are a workflow coach.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYSTEM_PROMPT_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.SystemPrompt != "You are a workflow coach." {
		t.Errorf("system prompt = %q", cfg.Analysis.SystemPrompt)
	}
}

func TestInvalidEffortRejectedWhenStrict(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRICT_CONFIG", "true")
	t.Setenv("ANALYSIS_REASONING_EFFORT", "extreme")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid reasoning effort")
	}
}

func TestNowIsUTCWholeSeconds(t *testing.T) {
	now := Now()
	if now.Location() != time.UTC {
		t.Errorf("location = %v", now.Location())
	}
	if now.Nanosecond() != 0 {
		t.Errorf("nanoseconds = %d, want truncated", now.Nanosecond())
	}
}
