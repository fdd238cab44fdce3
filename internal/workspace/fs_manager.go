package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	inputPrefix  = "input_"
	outputPrefix = "output_"
	outputExt    = ".xml"
)

// FSManager manages per-request workspace directories under a single root.
type FSManager struct {
	baseDir string
	now     func() time.Time
	newID   func() string
}

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*FSManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &FSManager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// BaseDir returns the workspace root.
func (m *FSManager) BaseDir() string { return m.baseDir }

// Create allocates a fresh, empty workspace with a random identifier.
func (m *FSManager) Create(ctx context.Context) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	id := m.newID()
	path, err := m.workspacePath(id)
	if err != nil {
		return Workspace{}, &AllocationError{ID: id, Err: err}
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Workspace{}, &AllocationError{ID: id, Err: fmt.Errorf("create workspace base directory: %w", err)}
	}

	// Mkdir, not MkdirAll: an existing directory means the id collided.
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, &AllocationError{ID: id, Err: err}
	}

	return Workspace{ID: id, Dir: path, CreatedAt: m.now()}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *FSManager) Open(ctx context.Context, id string) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(id)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace %q: %w", id, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for %q is not a directory", id)
	}

	return Workspace{ID: id, Dir: path, CreatedAt: info.ModTime()}, nil
}

// Destroy recursively removes the workspace for id. Removing a workspace that
// is already gone, or never existed, succeeds.
func (m *FSManager) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := m.workspacePath(id)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove workspace %q: %w", id, err)
	}
	return nil
}

// InputPath returns where the uploaded artifact for ws is stored. ext keeps
// the caller's extension (".mid" or ".midi").
func InputPath(ws Workspace, ext string) string {
	if ext == "" {
		ext = ".mid"
	}
	return filepath.Join(ws.Dir, inputPrefix+ws.ID+ext)
}

// OutputPath returns where the converter is asked to write its result.
func OutputPath(ws Workspace) string {
	return filepath.Join(ws.Dir, outputPrefix+ws.ID+outputExt)
}

func (m *FSManager) workspacePath(id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, id), nil
}

func validateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("workspace id is empty")
	}
	if trimmed != id {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("workspace id %q must not contain path separators", id)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("workspace id %q is invalid", id)
	}
	return nil
}
