package convert

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/scorebridge/internal/supervisor"
	"github.com/mattjoyce/scorebridge/internal/workspace"
)

// DefaultCleanupDelay is how long a finished workspace is kept so the
// response can finish streaming from it.
const DefaultCleanupDelay = 5 * time.Second

var acceptedExtensions = map[string]bool{".mid": true, ".midi": true}

// Workspaces allocates and removes request workspaces.
type Workspaces interface {
	Create(ctx context.Context) (workspace.Workspace, error)
	Destroy(ctx context.Context, id string) error
}

// Runner executes a command under supervision.
type Runner interface {
	Run(ctx context.Context, c supervisor.Command, timeout time.Duration) (*supervisor.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	ConverterPath  string
	Timeout        time.Duration
	CleanupDelay   time.Duration
	MaxUploadBytes int64
}

// Artifact is a converted score waiting to be streamed to the client.
type Artifact struct {
	Workspace    workspace.Workspace
	Path         string
	DownloadName string
	Size         int64
	Digest       string
	Duration     time.Duration
}

// Pipeline converts uploads one workspace at a time.
type Pipeline struct {
	workspaces Workspaces
	runner     Runner
	opts       Options
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewPipeline creates a conversion pipeline.
func NewPipeline(workspaces Workspaces, runner Runner, opts Options, logger *slog.Logger) *Pipeline {
	if opts.CleanupDelay <= 0 {
		opts.CleanupDelay = DefaultCleanupDelay
	}
	return &Pipeline{
		workspaces: workspaces,
		runner:     runner,
		opts:       opts,
		logger:     logger.With("component", "convert"),
		pending:    make(map[string]*time.Timer),
	}
}

// Timeout returns the converter time limit.
func (p *Pipeline) Timeout() time.Duration { return p.opts.Timeout }

// ValidateFilename checks the client-supplied name of an upload.
func ValidateFilename(filename string) error {
	if filename == "" {
		return invalidInput("No file selected")
	}
	if !acceptedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return invalidInput("File must be a MIDI file (.mid or .midi)")
	}
	return nil
}

// DownloadName derives the attachment name for a converted upload.
func DownloadName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "output"
	}
	return base + ".xml"
}

// Convert stores upload in a fresh workspace and runs the converter on it.
// On success the returned artifact's workspace stays on disk until Release.
func (p *Pipeline) Convert(ctx context.Context, upload io.Reader, filename string) (*Artifact, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}

	ws, err := p.workspaces.Create(ctx)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("workspace_id", ws.ID)

	art, err := p.convertIn(ctx, ws, upload, filename, logger)
	if err != nil {
		p.destroy(ws.ID, logger)
		return nil, err
	}
	return art, nil
}

func (p *Pipeline) convertIn(ctx context.Context, ws workspace.Workspace, upload io.Reader, filename string, logger *slog.Logger) (*Artifact, error) {
	input := workspace.InputPath(ws, strings.ToLower(filepath.Ext(filename)))
	n, err := p.store(upload, input)
	if err != nil {
		return nil, err
	}
	logger.Debug("upload stored", "bytes", n, "filename", filename)

	output := workspace.OutputPath(ws)
	res, err := p.runner.Run(ctx, supervisor.Command{
		Path: p.opts.ConverterPath,
		Args: []string{"-o", output, input},
		Dir:  ws.Dir,
	}, p.opts.Timeout)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		logger.Warn("converter produced no output", "stderr", res.Stderr)
		return nil, ErrNoOutput
	}

	digest, err := digestFile(output)
	if err != nil {
		return nil, fmt.Errorf("digest output: %w", err)
	}

	logger.Info("conversion finished", "duration", res.Duration, "output_bytes", info.Size())
	return &Artifact{
		Workspace:    ws,
		Path:         output,
		DownloadName: DownloadName(filename),
		Size:         info.Size(),
		Digest:       digest,
		Duration:     res.Duration,
	}, nil
}

// store copies upload to path, enforcing the size limit and rejecting empty
// bodies.
func (p *Pipeline) store(upload io.Reader, path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create input file: %w", err)
	}

	src := upload
	if p.opts.MaxUploadBytes > 0 {
		src = io.LimitReader(upload, p.opts.MaxUploadBytes+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	if copyErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(copyErr, &tooLarge) {
			return n, &InputError{Message: "File too large", TooLarge: true}
		}
		return n, fmt.Errorf("store upload: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("store upload: %w", closeErr)
	}
	if p.opts.MaxUploadBytes > 0 && n > p.opts.MaxUploadBytes {
		return n, &InputError{Message: "File too large", TooLarge: true}
	}
	if n == 0 {
		return 0, invalidInput("Uploaded file is empty")
	}
	return n, nil
}

// Release schedules removal of the artifact's workspace after the cleanup
// delay. After Close it removes the workspace immediately.
func (p *Pipeline) Release(art *Artifact) {
	if art == nil {
		return
	}
	id := art.Workspace.ID
	logger := p.logger.With("workspace_id", id)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(id, logger)
		return
	}
	if _, ok := p.pending[id]; ok {
		p.mu.Unlock()
		return
	}
	p.pending[id] = time.AfterFunc(p.opts.CleanupDelay, func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.destroy(id, logger)
	})
	p.mu.Unlock()
}

// Pending reports how many workspaces are waiting for deferred cleanup.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close cancels pending cleanup timers and removes their workspaces now.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	var flush []string
	for id, t := range p.pending {
		if t.Stop() {
			flush = append(flush, id)
		}
		delete(p.pending, id)
	}
	p.mu.Unlock()

	for _, id := range flush {
		p.destroy(id, p.logger.With("workspace_id", id))
	}
}

func (p *Pipeline) destroy(id string, logger *slog.Logger) {
	// Background: cleanup must run even when the request context is done.
	if err := p.workspaces.Destroy(context.Background(), id); err != nil {
		logger.Warn("workspace cleanup failed", "error", err)
		return
	}
	logger.Debug("workspace removed")
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
