package workspace

import (
	"fmt"
	"time"
)

// Workspace describes a request-scoped directory holding one input artifact
// and, once conversion succeeds, one output artifact.
//
// Workspaces are not tracked in memory; a workspace exists exactly as long as
// its directory does.
type Workspace struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// CleanupReport summarizes a janitor sweep.
type CleanupReport struct {
	Scanned     int       `json:"scanned"`
	DeletedDirs int       `json:"deleted_dirs"`
	Failed      int       `json:"failed"`
	At          time.Time `json:"at"`
}

// AllocationError reports that a workspace directory could not be created.
type AllocationError struct {
	ID  string
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate workspace %q: %v", e.ID, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }
