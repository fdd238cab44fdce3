package api

import (
	"github.com/mattjoyce/scorebridge/internal/reaper"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HomeResponse is returned by GET /.
type HomeResponse struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string                   `json:"status"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	TempDir       string                   `json:"temp_dir"`
	Reaper        *reaper.Report           `json:"reaper,omitempty"`
	Janitor       *workspace.CleanupReport `json:"janitor,omitempty"`
}

// VersionResponse is returned by GET /musescore/version. Error carries the
// converter's stderr and is null when it printed nothing.
type VersionResponse struct {
	Version string  `json:"musescore_version"`
	Error   *string `json:"error"`
}

// ConvertInfoResponse is returned by GET /convert/info.
type ConvertInfoResponse struct {
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Accepts     string            `json:"accepts"`
	Returns     string            `json:"returns"`
	Usage       map[string]string `json:"usage"`
	Limitations map[string]string `json:"limitations"`
}
