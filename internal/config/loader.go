package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environment variables that override file values.
const (
	EnvConfig          = "SCOREBRIDGE_CONFIG"
	EnvTempDir         = "SCOREBRIDGE_TEMP_DIR"
	EnvListen          = "SCOREBRIDGE_LISTEN"
	EnvLogLevel        = "SCOREBRIDGE_LOG_LEVEL"
	EnvConverter       = "SCOREBRIDGE_CONVERTER"
	EnvConvertTimeout  = "SCOREBRIDGE_CONVERT_TIMEOUT"
	EnvJanitorInterval = "SCOREBRIDGE_JANITOR_INTERVAL"
	EnvJanitorMaxAge   = "SCOREBRIDGE_JANITOR_MAX_AGE"
	EnvReaperInterval  = "SCOREBRIDGE_REAPER_INTERVAL"
	EnvReaperMaxAge    = "SCOREBRIDGE_REAPER_MAX_AGE"
)

// Load reads and parses configuration from a YAML file, then applies
// defaults, environment overrides, and validation. An empty configPath
// skips the file and starts from defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		if info.IsDir() {
			absPath = filepath.Join(absPath, "config.yaml")
		}

		cfg, err = loadConfigFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", absPath, err)
		}
	}

	cfg = applyConfigDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds a config file by checking standard locations.
// Priority order: $SCOREBRIDGE_CONFIG, ./scorebridge.yaml, /etc/scorebridge/config.yaml.
// It returns "" when none exists; the service then runs on defaults.
func DiscoverConfigPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	for _, p := range []string{"./scorebridge.yaml", "/etc/scorebridge/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.TempDir == "" {
		cfg.TempDir = defaults.TempDir
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxUploadBytes == 0 {
		cfg.API.MaxUploadBytes = defaults.API.MaxUploadBytes
	}
	if cfg.API.CleanupDelay == 0 {
		cfg.API.CleanupDelay = defaults.API.CleanupDelay
	}

	if cfg.Converter.Path == "" {
		cfg.Converter.Path = defaults.Converter.Path
	}
	if cfg.Converter.Timeout == 0 {
		cfg.Converter.Timeout = defaults.Converter.Timeout
	}
	if cfg.Converter.GracePeriod == 0 {
		cfg.Converter.GracePeriod = defaults.Converter.GracePeriod
	}

	if cfg.Janitor.Interval == 0 {
		cfg.Janitor.Interval = defaults.Janitor.Interval
	}
	if cfg.Janitor.MaxAge == 0 {
		cfg.Janitor.MaxAge = defaults.Janitor.MaxAge
	}

	if cfg.Reaper.Interval == 0 {
		cfg.Reaper.Interval = defaults.Reaper.Interval
	}
	if cfg.Reaper.MaxAge == 0 {
		cfg.Reaper.MaxAge = defaults.Reaper.MaxAge
	}

	return cfg
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvTempDir); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Service.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvConverter); v != "" {
		cfg.Converter.Path = v
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvConvertTimeout, &cfg.Converter.Timeout},
		{EnvJanitorInterval, &cfg.Janitor.Interval},
		{EnvJanitorMaxAge, &cfg.Janitor.MaxAge},
		{EnvReaperInterval, &cfg.Reaper.Interval},
		{EnvReaperMaxAge, &cfg.Reaper.MaxAge},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

// parseDuration accepts Go duration strings ("90s", "1h") and bare integers,
// which are read as seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if strings.TrimSpace(cfg.TempDir) == "" {
		return fmt.Errorf("temp_dir is required")
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"api.cleanup_delay", cfg.API.CleanupDelay},
		{"converter.timeout", cfg.Converter.Timeout},
		{"converter.grace_period", cfg.Converter.GracePeriod},
		{"janitor.interval", cfg.Janitor.Interval},
		{"janitor.max_age", cfg.Janitor.MaxAge},
		{"reaper.interval", cfg.Reaper.Interval},
		{"reaper.max_age", cfg.Reaper.MaxAge},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.field)
		}
	}
	if cfg.API.MaxUploadBytes <= 0 {
		return fmt.Errorf("api.max_upload_bytes must be positive")
	}

	// A supervised run may legitimately last timeout+grace; the reaper must
	// not reclaim it first.
	if minAge := cfg.Converter.Timeout + cfg.Converter.GracePeriod; cfg.Reaper.MaxAge <= minAge {
		return fmt.Errorf("reaper.max_age (%v) must exceed converter.timeout + converter.grace_period (%v)", cfg.Reaper.MaxAge, minAge)
	}

	if envVarPattern.MatchString(cfg.API.Auth.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey)
		return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", matches[1])
	}

	return nil
}
