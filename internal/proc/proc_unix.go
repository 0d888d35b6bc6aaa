//go:build unix

package proc

import (
	"os"
	"syscall"
)

// alive sends signal 0, which checks for process existence without
// affecting the target. EPERM means the process exists but belongs to
// another user, so it still counts as alive.
func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
