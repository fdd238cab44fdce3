// Package supervisor runs the external converter as a supervised child
// process group.
//
// Every command is started as the leader of a new process group. Run blocks
// until the command exits or its timeout expires:
//   - Normal exit: stdout/stderr (each capped at 64KB) and the exit code are
//     returned; a nonzero exit is reported as *ExecutionFailed.
//   - Timeout: SIGTERM → grace period → SIGKILL, sent to the whole group, then
//     *TimeoutExceeded is returned.
//   - Context cancellation: same termination sequence, ctx.Err() returned.
//
// Whatever the outcome, a final SIGKILL is sent to the group before Run
// returns so helpers forked by the converter cannot outlive the call.
package supervisor
