// Package inspect renders reports about request workspaces on disk.
package inspect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/scorebridge/internal/workspace"
)

// Opener resolves a workspace by id.
type Opener interface {
	Open(ctx context.Context, id string) (workspace.Workspace, error)
}

// Report is the structured JSON representation of a workspace report.
type Report struct {
	WorkspaceID string     `json:"workspace_id"`
	Path        string     `json:"path"`
	ModifiedAt  time.Time  `json:"modified_at"`
	AgeSeconds  int64      `json:"age_seconds"`
	Artifacts   []Artifact `json:"artifacts"`
}

// Artifact is one file inside a workspace.
type Artifact struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Size   int64  `json:"size"`
	Blake3 string `json:"blake3"`
}

// BuildReport renders a terminal-friendly report for a workspace.
func BuildReport(ctx context.Context, ws Opener, id string, now time.Time) (string, error) {
	report, err := gatherReportData(ctx, ws, id, now)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Workspace Report\n")
	fmt.Fprintf(&out, "Workspace ID : %s\n", report.WorkspaceID)
	fmt.Fprintf(&out, "Path         : %s\n", report.Path)
	fmt.Fprintf(&out, "Modified     : %s\n", report.ModifiedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&out, "Age          : %s\n", (time.Duration(report.AgeSeconds) * time.Second).String())
	fmt.Fprintf(&out, "\n")

	if len(report.Artifacts) == 0 {
		fmt.Fprintf(&out, "Artifacts    : <none>\n")
	} else {
		fmt.Fprintf(&out, "Artifacts    :\n")
		for _, a := range report.Artifacts {
			fmt.Fprintf(&out, "  - %s (%s, %d bytes)\n", a.Name, a.Role, a.Size)
			fmt.Fprintf(&out, "    blake3 : %s\n", a.Blake3)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON workspace report.
func BuildJSONReport(ctx context.Context, ws Opener, id string, now time.Time) (string, error) {
	report, err := gatherReportData(ctx, ws, id, now)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, ws Opener, id string, now time.Time) (*Report, error) {
	w, err := ws.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	artifacts, err := listArtifacts(w)
	if err != nil {
		return nil, fmt.Errorf("list artifacts for %s: %w", id, err)
	}

	return &Report{
		WorkspaceID: w.ID,
		Path:        w.Dir,
		ModifiedAt:  w.CreatedAt,
		AgeSeconds:  int64(now.Sub(w.CreatedAt).Seconds()),
		Artifacts:   artifacts,
	}, nil
}

func listArtifacts(w workspace.Workspace) ([]Artifact, error) {
	artifacts := make([]Artifact, 0)
	err := filepath.WalkDir(w.Dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == w.Dir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.Dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := digest(path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, Artifact{
			Name:   rel,
			Role:   role(w, path),
			Size:   info.Size(),
			Blake3: sum,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, nil
}

func role(w workspace.Workspace, path string) string {
	switch {
	case path == workspace.OutputPath(w):
		return "output"
	case strings.HasPrefix(filepath.Base(path), "input_"+w.ID):
		return "input"
	default:
		return "other"
	}
}

func digest(path string) (string, error) {
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
