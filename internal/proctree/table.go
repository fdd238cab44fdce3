package proctree

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// userHZ is the clock tick rate procfs start times are expressed in. procfs
// makes the same assumption.
const userHZ = 100

// ProcfsTable reads process state from a mounted procfs.
type ProcfsTable struct {
	fs procfs.FS
}

// NewProcfsTable opens the procfs mounted at mountPoint. An empty mountPoint
// uses the default /proc.
func NewProcfsTable(mountPoint string) (*ProcfsTable, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %q: %w", mountPoint, err)
	}
	return &ProcfsTable{fs: fs}, nil
}

// Snapshot returns every process visible in procfs. Processes that exit while
// the snapshot is taken are skipped.
func (t *ProcfsTable) Snapshot() ([]Process, error) {
	kstat, err := t.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read kernel stat: %w", err)
	}
	boot := time.Unix(int64(kstat.BootTime), 0)

	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			continue
		}
		ticks := time.Duration(st.Starttime) * (time.Second / userHZ)
		out = append(out, Process{
			PID:       st.PID,
			PPID:      st.PPID,
			PGID:      st.PGRP,
			Name:      st.Comm,
			State:     st.State,
			StartTime: boot.Add(ticks),
		})
	}
	return out, nil
}

// GroupMembers returns the live, non-zombie members of process group pgid.
func (t *ProcfsTable) GroupMembers(pgid int) ([]Process, error) {
	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	var members []Process
	for _, p := range snap {
		if p.PGID == pgid && !p.Zombie() {
			members = append(members, p)
		}
	}
	return members, nil
}

func (t *ProcfsTable) stat(pid int) (Process, bool) {
	p, err := t.fs.Proc(pid)
	if err != nil {
		return Process{}, false
	}
	st, err := p.Stat()
	if err != nil {
		return Process{}, false
	}
	return Process{PID: st.PID, PPID: st.PPID, PGID: st.PGRP, Name: st.Comm, State: st.State}, true
}
