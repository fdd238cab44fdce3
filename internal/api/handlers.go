package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mattjoyce/scorebridge/internal/convert"
	"github.com/mattjoyce/scorebridge/internal/metrics"
	"github.com/mattjoyce/scorebridge/internal/supervisor"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

const uploadField = "file"

// handleHome handles GET /.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HomeResponse{
		Message: "scorebridge MIDI to MusicXML converter",
		Status:  "running",
		Endpoints: map[string]string{
			"/":                  "This message",
			"/health":            "Health check",
			"/healthz":           "Detailed health and sweep status",
			"/musescore/version": "Get MuseScore version",
			"/convert":           "Convert MIDI to MusicXML (POST)",
			"/convert/info":      "Conversion endpoint details",
			"/metrics":           "Prometheus metrics",
		},
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		TempDir:       s.config.TempDir,
	}
	if s.deps.Reaper != nil {
		rep := s.deps.Reaper.LastReport()
		resp.Reaper = &rep
	}
	if s.deps.Janitor != nil {
		rep := s.deps.Janitor.LastReport()
		resp.Janitor = &rep
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleVersion handles GET /musescore/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.deps.Version == nil {
		s.writeError(w, http.StatusInternalServerError, "version probe not configured")
		return
	}
	version, stderr, err := s.deps.Version.Version(r.Context(), s.config.ConverterPath)
	if err != nil {
		s.logger.Warn("converter version probe failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := VersionResponse{Version: version}
	if stderr != "" {
		resp.Error = &stderr
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleConvertInfo handles GET /convert/info.
func (s *Server) handleConvertInfo(w http.ResponseWriter, r *http.Request) {
	timeout := "unknown"
	if s.deps.Converter != nil {
		timeout = s.deps.Converter.Timeout().String()
	}
	respondJSON(w, http.StatusOK, ConvertInfoResponse{
		Endpoint: "/convert",
		Method:   http.MethodPost,
		Accepts:  "MIDI files (.mid, .midi)",
		Returns:  "MusicXML file (.xml)",
		Usage: map[string]string{
			"curl":        "curl -X POST -F 'file=@your_file.mid' http://localhost:8129/convert -o output.xml",
			"description": "Send a MIDI file as multipart/form-data with field name 'file'",
		},
		Limitations: map[string]string{
			"timeout":    timeout,
			"max_upload": strconv.FormatInt(s.config.MaxUploadBytes, 10) + " bytes",
			"file_types": "MIDI files only (.mid or .midi extension)",
		},
	})
}

// handleConvert handles POST /convert. The upload is streamed from the
// multipart body straight into the request's workspace. Once the converter
// has started, only its timeout or cancellation of root stops it; a client
// hanging up does not.
func (s *Server) handleConvert(root context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.convert(root, w, r)
	}
}

func (s *Server) convert(root context.Context, w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+multipartOverhead)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.reject(w, http.StatusBadRequest, "No file provided")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			s.reject(w, http.StatusBadRequest, "No file provided")
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.reject(w, http.StatusRequestEntityTooLarge, "File too large")
				return
			}
			s.reject(w, http.StatusBadRequest, "Malformed multipart body")
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		s.convertPart(root, w, r, part, part.FileName())
		_ = part.Close()
		return
	}
}

func (s *Server) convertPart(root context.Context, w http.ResponseWriter, r *http.Request, upload io.Reader, filename string) {
	done := s.deps.Metrics.ConversionStarted()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(root, cancel)
	defer stop()

	art, err := s.deps.Converter.Convert(ctx, upload, filename)
	if err != nil {
		status, body, outcome := s.classify(err)
		done(outcome)
		respondJSON(w, status, body)
		return
	}
	defer s.deps.Converter.Release(art)
	done(metrics.OutcomeSuccess)

	s.sendArtifact(w, art)
}

// classify maps a conversion error onto its HTTP response and metric outcome.
func (s *Server) classify(err error) (int, ErrorResponse, string) {
	var (
		inErr   *convert.InputError
		alloc   *workspace.AllocationError
		execErr *supervisor.ExecutionFailed
		timeout *supervisor.TimeoutExceeded
	)

	switch {
	case errors.As(err, &inErr):
		if inErr.TooLarge {
			return http.StatusRequestEntityTooLarge, ErrorResponse{Error: inErr.Message}, metrics.OutcomeBadRequest
		}
		return http.StatusBadRequest, ErrorResponse{Error: inErr.Message}, metrics.OutcomeBadRequest

	case errors.As(err, &alloc):
		s.logger.Error("workspace allocation failed", "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: "Failed to allocate workspace"}, metrics.OutcomeAllocation

	case errors.Is(err, convert.ErrNoOutput):
		return http.StatusInternalServerError, ErrorResponse{Error: "Conversion failed - output file not created"}, metrics.OutcomeExecutionFailed

	case errors.As(err, &execErr):
		details := execErr.Stderr
		if details == "" {
			details = "Unknown error during conversion"
			if execErr.Err != nil {
				details = execErr.Err.Error()
			}
		}
		return http.StatusInternalServerError, ErrorResponse{Error: "Conversion failed", Details: details}, metrics.OutcomeExecutionFailed

	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "Conversion timeout - file may be too large or complex"}, metrics.OutcomeTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "Service shutting down"}, metrics.OutcomeError

	default:
		s.logger.Error("conversion error", "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: fmt.Sprintf("Conversion error: %v", err)}, metrics.OutcomeError
	}
}

func (s *Server) sendArtifact(w http.ResponseWriter, art *convert.Artifact) {
	f, err := os.Open(art.Path)
	if err != nil {
		s.logger.Error("open artifact", "workspace_id", art.Workspace.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Conversion error: artifact unavailable")
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/xml")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.DownloadName}))
	h.Set("Content-Length", strconv.FormatInt(art.Size, 10))
	h.Set("X-Content-Blake3", art.Digest)
	h.Set("X-Workspace-ID", art.Workspace.ID)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("stream artifact", "workspace_id", art.Workspace.ID, "error", err)
	}
}

// reject writes an error for a request refused before conversion started.
func (s *Server) reject(w http.ResponseWriter, statusCode int, message string) {
	s.deps.Metrics.ConversionRejected(metrics.OutcomeBadRequest)
	s.writeError(w, statusCode, message)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
