// Package doctor validates scorebridge configuration against the host.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/scorebridge/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	lookPath func(string) (string, error)
	detectFS func(string) (filesystem, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:      cfg,
		lookPath: exec.LookPath,
		detectFS: detectFilesystem,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConverter(r)
	d.validateTempDir(r)
	d.warnSweepIntervals(r)
	d.warnAPIExposure(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConverter checks that the converter executable resolves.
func (d *Doctor) validateConverter(r *Result) {
	path := d.cfg.Converter.Path
	if strings.TrimSpace(path) == "" {
		d.addError(r, "converter", "converter.path", "converter.path is required")
		return
	}
	if _, err := d.lookPath(path); err != nil {
		d.addError(r, "converter", "converter.path",
			fmt.Sprintf("converter %q not found: %v", path, err))
	}
}

// validateTempDir checks the workspace root is usable. A missing root is
// fine when its nearest existing parent is writable.
func (d *Doctor) validateTempDir(r *Result) {
	dir := d.cfg.TempDir
	existing, err := nearestExistingPath(dir)
	if err != nil {
		d.addError(r, "temp_dir", "temp_dir", err.Error())
		return
	}

	info, err := os.Stat(existing)
	if err != nil {
		d.addError(r, "temp_dir", "temp_dir", fmt.Sprintf("stat %q: %v", existing, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "temp_dir", "temp_dir", fmt.Sprintf("%q is not a directory", existing))
		return
	}
	if err := unix.Access(existing, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		d.addError(r, "temp_dir", "temp_dir",
			fmt.Sprintf("%q is not writable: %v", existing, err))
		return
	}

	fs, err := d.detectFS(existing)
	if err != nil {
		return
	}
	if fs.Remote {
		d.addWarning(r, "temp_dir", "temp_dir",
			fmt.Sprintf("%q is on network filesystem %q; the instance lock and mtime-based cleanup may be unreliable", dir, fs.Name))
	}
}

// warnSweepIntervals flags retention settings that let work pile up.
func (d *Doctor) warnSweepIntervals(r *Result) {
	c := d.cfg
	if c.Reaper.Interval > c.Reaper.MaxAge {
		d.addWarning(r, "reaper", "reaper.interval",
			fmt.Sprintf("reaper interval %v exceeds max age %v; runaway converters may live up to %v",
				c.Reaper.Interval, c.Reaper.MaxAge, c.Reaper.Interval+c.Reaper.MaxAge))
	}
	if floor := c.Converter.Timeout + c.API.CleanupDelay; c.Janitor.MaxAge < floor {
		d.addWarning(r, "janitor", "janitor.max_age",
			fmt.Sprintf("janitor max age %v is shorter than converter timeout + cleanup delay (%v); in-flight workspaces may be removed",
				c.Janitor.MaxAge, floor))
	}
}

// warnAPIExposure flags an unauthenticated API on a non-loopback address.
func (d *Doctor) warnAPIExposure(r *Result) {
	if d.cfg.API.Auth.APIKey != "" {
		return
	}
	listen := d.cfg.API.Listen
	if strings.HasPrefix(listen, "127.0.0.1:") || strings.HasPrefix(listen, "localhost:") || strings.HasPrefix(listen, "[::1]:") {
		return
	}
	d.addWarning(r, "api", "api.auth.api_key",
		fmt.Sprintf("API listens on %s without authentication", listen))
}

func nearestExistingPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("temp_dir is empty")
	}
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
