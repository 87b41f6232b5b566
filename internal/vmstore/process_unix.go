//go:build unix

package vmstore

import "syscall"

// isProcessAlive sends signal 0 to pid and treats ESRCH as dead, EPERM
// (process exists but is owned by another user, e.g. root) as alive.
func isProcessAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
