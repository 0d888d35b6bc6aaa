//go:build windows

package proc

import (
	"golang.org/x/sys/windows"
)

// alive opens the process with minimal access rights and checks its exit
// state. Windows recycles PIDs, so an openable handle whose exit code is
// STILL_ACTIVE is the closest equivalent of signal-0 on Unix.
func alive(pid int) bool {
	const stillActive = 259 // STILL_ACTIVE

	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}
