// Package proctree observes and terminates OS process trees.
//
// It provides two pieces used by the rest of the service:
//   - a procfs-backed process table that snapshots (pid, ppid, pgid, name,
//     start time) for every process on the host
//   - a Terminator that signals a process group or an explicit set of PIDs
//     with two severities, graceful (SIGTERM) and forceful (SIGKILL),
//     escalating after a grace period
//
// Signalling a process that no longer exists is treated as success, so the
// supervisor's timeout path and the reaper may race on the same process.
package proctree
