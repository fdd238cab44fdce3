package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scorebridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "full config",
			yaml: `
service:
  log_level: debug
  log_format: text
temp_dir: /var/lib/scorebridge
api:
  listen: 127.0.0.1:9000
  max_upload_bytes: 1048576
  cleanup_delay: 10s
converter:
  path: /usr/bin/mscore
  timeout: 45s
  grace_period: 2s
janitor:
  interval: 30m
  max_age: 2h
reaper:
  interval: 1m
  max_age: 10m
  process_names: [mscore, musescore3]
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" || cfg.Service.LogFormat != "text" {
					t.Errorf("service not parsed: %+v", cfg.Service)
				}
				if cfg.TempDir != "/var/lib/scorebridge" {
					t.Errorf("temp_dir = %q", cfg.TempDir)
				}
				if cfg.API.Listen != "127.0.0.1:9000" || cfg.API.MaxUploadBytes != 1<<20 || cfg.API.CleanupDelay != 10*time.Second {
					t.Errorf("api not parsed: %+v", cfg.API)
				}
				if cfg.Converter.Path != "/usr/bin/mscore" || cfg.Converter.Timeout != 45*time.Second || cfg.Converter.GracePeriod != 2*time.Second {
					t.Errorf("converter not parsed: %+v", cfg.Converter)
				}
				if cfg.Janitor.Interval != 30*time.Minute || cfg.Janitor.MaxAge != 2*time.Hour {
					t.Errorf("janitor not parsed: %+v", cfg.Janitor)
				}
				if cfg.Reaper.Interval != time.Minute || cfg.Reaper.MaxAge != 10*time.Minute {
					t.Errorf("reaper not parsed: %+v", cfg.Reaper)
				}
				if got := cfg.ConverterNames(); len(got) != 2 || got[0] != "mscore" {
					t.Errorf("ConverterNames() = %v", got)
				}
			},
		},
		{
			name: "defaults applied to empty file",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				d := Defaults()
				if cfg.TempDir != d.TempDir {
					t.Errorf("temp_dir = %q, want %q", cfg.TempDir, d.TempDir)
				}
				if cfg.Converter.Timeout != 30*time.Second {
					t.Errorf("converter.timeout = %v, want 30s", cfg.Converter.Timeout)
				}
				if cfg.Janitor.MaxAge != time.Hour || cfg.Janitor.Interval != time.Hour {
					t.Errorf("janitor defaults not applied: %+v", cfg.Janitor)
				}
				if got := cfg.ConverterNames(); len(got) != 1 || got[0] != "musescore3" {
					t.Errorf("ConverterNames() = %v, want [musescore3]", got)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
temp_dir: ${SB_TEST_ROOT}/work
api:
  auth:
    api_key: ${SB_TEST_KEY}
`,
			env: map[string]string{"SB_TEST_ROOT": "/srv", "SB_TEST_KEY": "secret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.TempDir != "/srv/work" {
					t.Errorf("temp_dir = %q, want /srv/work", cfg.TempDir)
				}
				if cfg.API.Auth.APIKey != "secret" {
					t.Errorf("api_key = %q, want secret", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name:    "unresolved api key",
			yaml:    "api:\n  auth:\n    api_key: ${SB_TEST_UNSET_KEY}\n",
			wantErr: true,
		},
		{
			name: "env overrides file",
			yaml: "temp_dir: /from/file\nconverter:\n  timeout: 45s\n",
			env: map[string]string{
				EnvTempDir:        "/from/env",
				EnvConvertTimeout: "20",
				EnvReaperMaxAge:   "15m",
				EnvLogLevel:       "WARN",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.TempDir != "/from/env" {
					t.Errorf("temp_dir = %q, want /from/env", cfg.TempDir)
				}
				if cfg.Converter.Timeout != 20*time.Second {
					t.Errorf("converter.timeout = %v, want 20s", cfg.Converter.Timeout)
				}
				if cfg.Reaper.MaxAge != 15*time.Minute {
					t.Errorf("reaper.max_age = %v, want 15m", cfg.Reaper.MaxAge)
				}
				if cfg.Service.LogLevel != "warn" {
					t.Errorf("log_level = %q, want warn", cfg.Service.LogLevel)
				}
			},
		},
		{
			name:    "bad env duration",
			yaml:    "{}\n",
			env:     map[string]string{EnvJanitorMaxAge: "soon"},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: verbose\n",
			wantErr: true,
		},
		{
			name:    "reaper would race supervisor",
			yaml:    "converter:\n  timeout: 60s\n  grace_period: 5s\nreaper:\n  max_age: 60s\n",
			wantErr: true,
		},
		{
			name:    "negative duration",
			yaml:    "janitor:\n  max_age: -1h\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "temp_dir: [unterminated\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Fatal("Load() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvTempDir, "/tmp/sb-defaults")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.TempDir != "/tmp/sb-defaults" {
		t.Errorf("temp_dir = %q, want env override", cfg.TempDir)
	}
	if cfg.API.Listen != "0.0.0.0:8129" {
		t.Errorf("api.listen = %q, want default", cfg.API.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load(missing) error = nil, want error")
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("temp_dir: /d\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.TempDir != "/d" {
		t.Errorf("temp_dir = %q, want /d", cfg.TempDir)
	}
}

func TestDiscoverConfigPathPrefersEnv(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/custom.yaml")
	if got := DiscoverConfigPath(); got != "/etc/custom.yaml" {
		t.Errorf("DiscoverConfigPath() = %q", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"3600", time.Hour, false},
		{"90s", 90 * time.Second, false},
		{" 2h ", 2 * time.Hour, false},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
