// Package proc provides process liveness checks used for stale-lock and
// stale-session detection. A PID is "alive" when a process with that ID
// currently exists and is not a zombie awaiting reaping by its parent.
package proc

// Alive reports whether a process with the given PID is currently running.
// PIDs that are zero or negative are never alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}
