package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/scorebridge/internal/convert"
	"github.com/mattjoyce/scorebridge/internal/metrics"
	"github.com/mattjoyce/scorebridge/internal/reaper"
	"github.com/mattjoyce/scorebridge/internal/supervisor"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(cfg Config, deps Deps) *Server {
	if cfg.ConverterPath == "" {
		cfg.ConverterPath = "musescore3"
	}
	return New(cfg, deps, testLogger())
}

// fakeConverter implements Converter for testing.
type fakeConverter struct {
	mu       sync.Mutex
	body     []byte
	filename string
	released []*convert.Artifact
	err      error
	dir      string
}

func (f *fakeConverter) Convert(_ context.Context, upload io.Reader, filename string) (*convert.Artifact, error) {
	if err := convert.ValidateFilename(filename); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(upload)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.body = body
	f.filename = filename
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	out := filepath.Join(f.dir, "output.xml")
	xml := []byte("<score-partwise/>")
	if err := os.WriteFile(out, xml, 0o644); err != nil {
		return nil, err
	}
	return &convert.Artifact{
		Workspace:    workspace.Workspace{ID: "ws-1", Dir: f.dir},
		Path:         out,
		DownloadName: convert.DownloadName(filename),
		Size:         int64(len(xml)),
		Digest:       "abc123",
	}, nil
}

func (f *fakeConverter) Release(art *convert.Artifact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, art)
}

func (f *fakeConverter) Timeout() time.Duration { return 30 * time.Second }

type fakeVersion struct {
	out, stderr string
	err         error
}

func (f fakeVersion) Version(context.Context, string) (string, string, error) {
	return f.out, f.stderr, f.err
}

type fakeReaper struct{ report reaper.Report }

func (f fakeReaper) LastReport() reaper.Report { return f.report }

type fakeJanitor struct{ report workspace.CleanupReport }

func (f fakeJanitor) LastReport() workspace.CleanupReport { return f.report }

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postConvert(t *testing.T, h http.Handler, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/convert", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp
}

func TestHandleConvertSuccess(t *testing.T) {
	t.Parallel()
	conv := &fakeConverter{dir: t.TempDir()}
	h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: conv}).Handler()

	rec := postConvert(t, h, "file", "Etude Op.10.mid", []byte("MThd\x00\x00\x00\x06"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Etude Op.10.xml"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "abc123", rec.Header().Get("X-Content-Blake3"))
	assert.Equal(t, "ws-1", rec.Header().Get("X-Workspace-ID"))
	assert.Equal(t, "<score-partwise/>", rec.Body.String())

	assert.Equal(t, "MThd\x00\x00\x00\x06", string(conv.body))
	assert.Len(t, conv.released, 1, "artifact must be released after streaming")
}

func TestHandleConvertRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		max      int64
		wantCode int
		wantErr  string
	}{
		{name: "missing field", field: "", wantCode: http.StatusBadRequest, wantErr: "No file provided"},
		{name: "other field", field: "upload", filename: "a.mid", content: []byte("x"), wantCode: http.StatusBadRequest, wantErr: "No file provided"},
		{name: "empty filename", field: "file", filename: "", content: []byte("x"), wantCode: http.StatusBadRequest, wantErr: "No file selected"},
		{name: "wrong extension", field: "file", filename: "a.wav", content: []byte("x"), wantCode: http.StatusBadRequest, wantErr: "File must be a MIDI file (.mid or .midi)"},
		{name: "too large", field: "file", filename: "a.mid", content: bytes.Repeat([]byte("x"), 2048), max: 16, wantCode: http.StatusRequestEntityTooLarge, wantErr: "File too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			mgr, err := workspace.NewFSManager(dir)
			require.NoError(t, err)
			pipe := convert.NewPipeline(mgr, nil, convert.Options{Timeout: time.Second, MaxUploadBytes: tt.max}, testLogger())
			t.Cleanup(pipe.Close)

			max := tt.max
			if max == 0 {
				max = 1 << 20
			}
			h := newTestServer(Config{MaxUploadBytes: max}, Deps{Converter: pipe}).Handler()
			rec := postConvert(t, h, tt.field, tt.filename, tt.content)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Error)
		})
	}
}

func TestHandleConvertNotMultipart(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: &fakeConverter{}}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file provided", decodeError(t, rec).Error)
}

func TestHandleConvertErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantErr     string
		wantDetails string
	}{
		{
			name:     "allocation",
			err:      &workspace.AllocationError{ID: "x", Err: errors.New("disk full")},
			wantCode: http.StatusInternalServerError,
			wantErr:  "Failed to allocate workspace",
		},
		{
			name:        "execution failed",
			err:         &supervisor.ExecutionFailed{ExitCode: 1, Stderr: "bad header chunk"},
			wantCode:    http.StatusInternalServerError,
			wantErr:     "Conversion failed",
			wantDetails: "bad header chunk",
		},
		{
			name:        "execution failed without stderr",
			err:         &supervisor.ExecutionFailed{ExitCode: 2},
			wantCode:    http.StatusInternalServerError,
			wantErr:     "Conversion failed",
			wantDetails: "Unknown error during conversion",
		},
		{
			name:     "no output",
			err:      convert.ErrNoOutput,
			wantCode: http.StatusInternalServerError,
			wantErr:  "Conversion failed - output file not created",
		},
		{
			name:     "timeout",
			err:      &supervisor.TimeoutExceeded{Timeout: 30 * time.Second},
			wantCode: http.StatusGatewayTimeout,
			wantErr:  "Conversion timeout - file may be too large or complex",
		},
		{
			name:     "shutdown",
			err:      context.Canceled,
			wantCode: http.StatusServiceUnavailable,
			wantErr:  "Service shutting down",
		},
		{
			name:     "other",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantErr:  "Conversion error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conv := &fakeConverter{dir: t.TempDir(), err: tt.err}
			h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: conv}).Handler()

			rec := postConvert(t, h, "file", "a.mid", []byte("MThd"))

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, resp.Error)
			assert.Equal(t, tt.wantDetails, resp.Details)
			assert.Empty(t, conv.released)
		})
	}
}

func TestConvertRecordsMetrics(t *testing.T) {
	t.Parallel()
	m := metrics.New("test")
	conv := &fakeConverter{dir: t.TempDir()}
	h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: conv, Metrics: m}).Handler()

	require.Equal(t, http.StatusOK, postConvert(t, h, "file", "a.mid", []byte("MThd")).Code)
	require.Equal(t, http.StatusBadRequest, postConvert(t, h, "", "", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `test_conversions_total{outcome="success"} 1`)
	assert.Contains(t, body, `test_conversions_total{outcome="bad_request"} 1`)
}

func TestHomeAndHealth(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{}, Deps{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var home HomeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &home))
	assert.Equal(t, "running", home.Status)
	assert.Contains(t, home.Endpoints, "/convert")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHealthzIncludesSweeps(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	deps := Deps{
		Reaper:  fakeReaper{report: reaper.Report{Candidates: 3, Reaped: 1, At: at}},
		Janitor: fakeJanitor{report: workspace.CleanupReport{Scanned: 4, DeletedDirs: 2, At: at}},
	}
	h := newTestServer(Config{TempDir: "/app/temp_conversions"}, deps).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "/app/temp_conversions", resp.TempDir)
	require.NotNil(t, resp.Reaper)
	assert.Equal(t, 1, resp.Reaper.Reaped)
	require.NotNil(t, resp.Janitor)
	assert.Equal(t, 2, resp.Janitor.DeletedDirs)
}

func TestHandleVersion(t *testing.T) {
	t.Parallel()

	h := newTestServer(Config{}, Deps{Version: fakeVersion{out: "MuseScore3 3.6.2"}}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/musescore/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"musescore_version":"MuseScore3 3.6.2","error":null}`, rec.Body.String())

	h = newTestServer(Config{}, Deps{Version: fakeVersion{out: "3.6.2", stderr: "QStandardPaths: XDG_RUNTIME_DIR not set"}}).Handler()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/musescore/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"musescore_version":"3.6.2","error":"QStandardPaths: XDG_RUNTIME_DIR not set"}`, rec.Body.String())

	failing := &supervisor.ExecutionFailed{ExitCode: -1, Err: errors.New(`exec: "musescore3": executable file not found in $PATH`)}
	h = newTestServer(Config{}, Deps{Version: fakeVersion{err: failing}}).Handler()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/musescore/version", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "executable file not found")
}

func TestConvertInfo(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{MaxUploadBytes: 1024}, Deps{Converter: &fakeConverter{}}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/convert/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConvertInfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/convert", resp.Endpoint)
	assert.Equal(t, "30s", resp.Limitations["timeout"])
	assert.Equal(t, "1024 bytes", resp.Limitations["max_upload"])
}

func TestNotFoundAndMethodNotAllowedAreJSON(t *testing.T) {
	t.Parallel()
	h := newTestServer(Config{}, Deps{Converter: &fakeConverter{}}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Not found", decodeError(t, rec).Error)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/convert", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method not allowed", decodeError(t, rec).Error)
}

func httpGet(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// ctxConverter records the state of the context Convert receives.
type ctxConverter struct {
	fakeConverter
	ctxErr error
}

func (c *ctxConverter) Convert(ctx context.Context, upload io.Reader, filename string) (*convert.Artifact, error) {
	c.mu.Lock()
	c.ctxErr = ctx.Err()
	c.mu.Unlock()
	return nil, errors.New("stop here")
}

func TestConvertIgnoresClientCancellation(t *testing.T) {
	t.Parallel()
	conv := &ctxConverter{}
	h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: conv}).Handler()

	body, ct := multipartBody(t, "file", "a.mid", []byte("MThd"))
	clientCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/convert", body).WithContext(clientCtx)
	req.Header.Set("Content-Type", ct)
	h.ServeHTTP(httptest.NewRecorder(), req)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	assert.NoError(t, conv.ctxErr, "client cancellation must not reach the converter")
}

func TestConvertFollowsRootCancellation(t *testing.T) {
	t.Parallel()
	conv := &ctxConverter{}
	root, cancel := context.WithCancel(context.Background())
	cancel()
	h := newTestServer(Config{MaxUploadBytes: 1 << 20}, Deps{Converter: conv}).setupRoutes(root)

	postConvert(t, h, "file", "a.mid", []byte("MThd"))

	conv.mu.Lock()
	defer conv.mu.Unlock()
	assert.ErrorIs(t, conv.ctxErr, context.Canceled)
}

func TestServerTimeoutsDeriveFromGracePeriod(t *testing.T) {
	t.Parallel()
	srv := newTestServer(Config{GracePeriod: 2 * time.Second}, Deps{Converter: &fakeConverter{}})

	bound := supervisor.TerminationBound(2 * time.Second)
	assert.Equal(t, 30*time.Second+bound+streamAllowance, srv.writeTimeout())
	assert.Equal(t, bound+5*time.Second, srv.shutdownTimeout())

	def := newTestServer(Config{}, Deps{})
	assert.Equal(t, supervisor.TerminationBound(supervisor.DefaultGracePeriod)+streamAllowance, def.writeTimeout())
}
