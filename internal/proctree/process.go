package proctree

import (
	"sort"
	"time"
)

// Process is one entry of a process-table snapshot.
type Process struct {
	PID       int
	PPID      int
	PGID      int
	Name      string
	State     string
	StartTime time.Time
}

// Zombie reports whether the process has exited but not been reaped.
func (p Process) Zombie() bool {
	return p.State == "Z" || p.State == "X"
}

// Age returns how long the process has been running at now.
func (p Process) Age(now time.Time) time.Duration {
	return now.Sub(p.StartTime)
}

// Descendants returns the PIDs of every transitive child of root found in
// snapshot, ordered deepest first so leaves are signalled before parents.
// root itself is not included.
func Descendants(snapshot []Process, root int) []int {
	children := make(map[int][]int, len(snapshot))
	for _, p := range snapshot {
		if p.PID == p.PPID {
			continue
		}
		children[p.PPID] = append(children[p.PPID], p.PID)
	}

	depth := make(map[int]int)
	var out []int
	queue := []int{root}
	seen := map[int]bool{root: true}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		for _, child := range children[pid] {
			if seen[child] {
				continue
			}
			seen[child] = true
			depth[child] = depth[pid] + 1
			out = append(out, child)
			queue = append(queue, child)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return depth[out[i]] > depth[out[j]] })
	return out
}
