//go:build windows

package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// tryLock attempts a non-blocking exclusive LockFileEx on the lock file,
// creating it if needed. Returns the open file on success, or (nil, false)
// when the lock is held elsewhere.
func tryLock(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	var overlapped windows.Overlapped
	err = windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, &overlapped,
	)
	if err != nil {
		_ = f.Close()
		if err == windows.ERROR_LOCK_VIOLATION {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("LockFileEx: %w", err)
	}
	return f, true, nil
}

// unlock releases the region locked by tryLock.
func unlock(f *os.File) error {
	var overlapped windows.Overlapped
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, &overlapped); err != nil {
		return fmt.Errorf("UnlockFileEx: %w", err)
	}
	return nil
}
