package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings, resolved once at startup and passed by
// value into each component constructor.
type Config struct {
	InputDir      string
	DBPath        string
	HTTPPort      string
	EnableWatcher bool
	StrictConfig  bool

	Processing ProcessingConfig
	Analysis   AnalysisConfig
}

// ProcessingConfig captures windowing and batch orchestration settings.
type ProcessingConfig struct {
	WindowSeconds         float64
	LookbackWindows       int
	MaxConcurrentSessions int
	MaxRetries            int
	BackoffBaseMs         int
}

// AnalysisConfig captures the external analysis call settings.
type AnalysisConfig struct {
	Model           string
	BaseURL         string
	ReasoningEffort string
	Verbosity       string
	MaxOutputTokens int
	SystemPrompt    string
	TimeoutSec      int
}

type fileConfig struct {
	InputDir string               `json:"input_dir" yaml:"input_dir"`
	DBPath   string               `json:"db_path" yaml:"db_path"`
	HTTPPort string               `json:"http_port" yaml:"http_port"`
	Process  processingFileConfig `json:"processing" yaml:"processing"`
	Analysis analysisFileConfig   `json:"analysis" yaml:"analysis"`
}

type processingFileConfig struct {
	WindowSeconds         *float64 `json:"window_seconds" yaml:"window_seconds"`
	LookbackWindows       *int     `json:"lookback_windows" yaml:"lookback_windows"`
	MaxConcurrentSessions *int     `json:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	MaxRetries            *int     `json:"max_retries" yaml:"max_retries"`
	BackoffBaseMs         *int     `json:"backoff_base_ms" yaml:"backoff_base_ms"`
}

type analysisFileConfig struct {
	Model           string `json:"model" yaml:"model"`
	BaseURL         string `json:"base_url" yaml:"base_url"`
	ReasoningEffort string `json:"reasoning_effort" yaml:"reasoning_effort"`
	Verbosity       string `json:"verbosity" yaml:"verbosity"`
	MaxOutputTokens *int   `json:"max_output_tokens" yaml:"max_output_tokens"`
	SystemPrompt    string `json:"system_prompt" yaml:"system_prompt"`
	TimeoutSec      *int   `json:"timeout_sec" yaml:"timeout_sec"`
}

const (
	defaultPort          = ":8000"
	defaultInputDir      = "runtime/recordings"
	defaultDBFile        = "coaching_sessions.db"
	defaultWindowSeconds = 30.0
	defaultLookback      = 3
	defaultConcurrency   = 3
	defaultMaxRetries    = 2
	defaultBackoffBaseMs = 1000
	minConcurrency       = 1
	maxConcurrency       = 16
)

func defaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		WindowSeconds:         defaultWindowSeconds,
		LookbackWindows:       defaultLookback,
		MaxConcurrentSessions: defaultConcurrency,
		MaxRetries:            defaultMaxRetries,
		BackoffBaseMs:         defaultBackoffBaseMs,
	}
}

func defaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Model:           "gpt-5",
		BaseURL:         "https://api.openai.com",
		ReasoningEffort: "medium",
		Verbosity:       "medium",
		MaxOutputTokens: 4096,
		TimeoutSec:      120,
	}
}

var validEffortLevels = map[string]struct{}{
	"minimal": {}, "low": {}, "medium": {}, "high": {},
}

// Load reads configuration from an optional config file and environment
// variables, applying sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		EnableWatcher: parseBoolEnvDefault("ENABLE_WATCHER", true),
		StrictConfig:  parseBoolEnv("STRICT_CONFIG"),
		Processing:    defaultProcessingConfig(),
		Analysis:      defaultAnalysisConfig(),
	}

	configPath := getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.Processing = applyProcessingOverrides(cfg.Processing, fileCfg.Process)
	cfg.Analysis = applyAnalysisOverrides(cfg.Analysis, fileCfg.Analysis)

	cfg.InputDir = firstNonEmpty(os.Getenv("INPUT_DIR"), fileCfg.InputDir, defaultInputDir)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = defaultDBFile
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if v, ok, err := parseFloatEnv("WINDOW_SECONDS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid WINDOW_SECONDS: %w", err)
		}
		log.Printf("invalid WINDOW_SECONDS: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.Processing.WindowSeconds = v
	}
	if v, ok, err := parseIntEnv("LOOKBACK_WINDOWS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid LOOKBACK_WINDOWS: %w", err)
		}
		log.Printf("invalid LOOKBACK_WINDOWS: %v (using default)", err)
	} else if ok && v >= 0 {
		cfg.Processing.LookbackWindows = v
	}
	if v, ok, err := parseIntEnv("MAX_CONCURRENT_SESSIONS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid MAX_CONCURRENT_SESSIONS: %w", err)
		}
		log.Printf("invalid MAX_CONCURRENT_SESSIONS: %v (using default)", err)
	} else if ok {
		cfg.Processing.MaxConcurrentSessions = clampInt(v, minConcurrency, maxConcurrency)
	}
	if v, ok, err := parseIntEnv("MAX_RETRIES"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		log.Printf("invalid MAX_RETRIES: %v (using default)", err)
	} else if ok && v >= 0 {
		cfg.Processing.MaxRetries = v
	}
	if v, ok, err := parseIntEnv("BACKOFF_BASE_MS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid BACKOFF_BASE_MS: %w", err)
		}
		log.Printf("invalid BACKOFF_BASE_MS: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.Processing.BackoffBaseMs = v
	}

	if v := strings.TrimSpace(os.Getenv("ANALYSIS_MODEL")); v != "" {
		cfg.Analysis.Model = v
	}
	cfg.Analysis.BaseURL = firstNonEmpty(
		os.Getenv("ANALYSIS_BASE_URL"),
		os.Getenv("OPENAI_BASE_URL"),
		cfg.Analysis.BaseURL,
	)
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_REASONING_EFFORT")); v != "" {
		cfg.Analysis.ReasoningEffort = v
	}
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_VERBOSITY")); v != "" {
		cfg.Analysis.Verbosity = v
	}

	if promptPath := strings.TrimSpace(os.Getenv("SYSTEM_PROMPT_PATH")); promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("system prompt load failed (%s): %w", promptPath, err)
			}
			log.Printf("system prompt load failed (%s): %v (using configured prompt)", promptPath, err)
		} else {
			cfg.Analysis.SystemPrompt = strings.TrimSpace(string(data))
		}
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func applyProcessingOverrides(base ProcessingConfig, override processingFileConfig) ProcessingConfig {
	if override.WindowSeconds != nil && *override.WindowSeconds > 0 {
		base.WindowSeconds = *override.WindowSeconds
	}
	if override.LookbackWindows != nil && *override.LookbackWindows >= 0 {
		base.LookbackWindows = *override.LookbackWindows
	}
	if override.MaxConcurrentSessions != nil && *override.MaxConcurrentSessions > 0 {
		base.MaxConcurrentSessions = clampInt(*override.MaxConcurrentSessions, minConcurrency, maxConcurrency)
	}
	if override.MaxRetries != nil && *override.MaxRetries >= 0 {
		base.MaxRetries = *override.MaxRetries
	}
	if override.BackoffBaseMs != nil && *override.BackoffBaseMs > 0 {
		base.BackoffBaseMs = *override.BackoffBaseMs
	}
	return base
}

func applyAnalysisOverrides(base AnalysisConfig, override analysisFileConfig) AnalysisConfig {
	if strings.TrimSpace(override.Model) != "" {
		base.Model = strings.TrimSpace(override.Model)
	}
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = strings.TrimSpace(override.BaseURL)
	}
	if strings.TrimSpace(override.ReasoningEffort) != "" {
		base.ReasoningEffort = strings.TrimSpace(override.ReasoningEffort)
	}
	if strings.TrimSpace(override.Verbosity) != "" {
		base.Verbosity = strings.TrimSpace(override.Verbosity)
	}
	if override.MaxOutputTokens != nil && *override.MaxOutputTokens > 0 {
		base.MaxOutputTokens = *override.MaxOutputTokens
	}
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = strings.TrimSpace(override.SystemPrompt)
	}
	if override.TimeoutSec != nil && *override.TimeoutSec > 0 {
		base.TimeoutSec = *override.TimeoutSec
	}
	return base
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.InputDir) == "" {
		return errors.New("INPUT_DIR is required")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return errors.New("HTTP_PORT is required")
	}
	if cfg.Processing.WindowSeconds <= 0 {
		return errors.New("window seconds must be positive")
	}
	if cfg.Processing.LookbackWindows < 0 {
		return errors.New("lookback windows must not be negative")
	}
	if cfg.Processing.MaxConcurrentSessions < 1 {
		return errors.New("max concurrent sessions must be at least 1")
	}
	if cfg.Processing.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if _, ok := validEffortLevels[cfg.Analysis.ReasoningEffort]; !ok {
		return fmt.Errorf("reasoning effort must be one of minimal|low|medium|high (got %q)", cfg.Analysis.ReasoningEffort)
	}
	if _, ok := validEffortLevels[cfg.Analysis.Verbosity]; !ok {
		return fmt.Errorf("verbosity must be one of minimal|low|medium|high (got %q)", cfg.Analysis.Verbosity)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseFloatEnv(key string) (float64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	return val, true, err
}

// APIKey reads the analysis API key from the environment at call time so
// rotated keys take effect without a restart.
func APIKey() string {
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// Now returns a UTC timestamp truncated to seconds for deterministic
// store writes.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
