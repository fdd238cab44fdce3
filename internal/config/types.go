package config

import "time"

// Config represents the complete scorebridge configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	TempDir   string          `yaml:"temp_dir"`
	API       APIConfig       `yaml:"api"`
	Converter ConverterConfig `yaml:"converter"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Reaper    ReaperConfig    `yaml:"reaper"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP server settings.
type APIConfig struct {
	Listen         string        `yaml:"listen"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	CleanupDelay   time.Duration `yaml:"cleanup_delay"`
	Auth           APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings. An empty APIKey leaves
// the API open.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// ConverterConfig defines how the external converter is invoked.
type ConverterConfig struct {
	Path        string        `yaml:"path"`
	Timeout     time.Duration `yaml:"timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// JanitorConfig defines the stale-workspace sweep.
type JanitorConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// ReaperConfig defines the runaway-process sweep.
type ReaperConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxAge       time.Duration `yaml:"max_age"`
	ProcessNames []string      `yaml:"process_names,omitempty"`
}

// Defaults returns a Config matching the reference deployment.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "scorebridge",
			LogLevel:  "info",
			LogFormat: "json",
		},
		TempDir: "/app/temp_conversions",
		API: APIConfig{
			Listen:         "0.0.0.0:8129",
			MaxUploadBytes: 32 << 20,
			CleanupDelay:   5 * time.Second,
		},
		Converter: ConverterConfig{
			Path:        "musescore3",
			Timeout:     30 * time.Second,
			GracePeriod: 5 * time.Second,
		},
		Janitor: JanitorConfig{
			Interval: time.Hour,
			MaxAge:   time.Hour,
		},
		Reaper: ReaperConfig{
			Interval: 5 * time.Minute,
			MaxAge:   300 * time.Second,
		},
	}
}

// ConverterNames returns the process names the reaper should match. When none
// are configured, the converter executable's name is used.
func (c *Config) ConverterNames() []string {
	if len(c.Reaper.ProcessNames) > 0 {
		return c.Reaper.ProcessNames
	}
	return []string{c.Converter.Path}
}
