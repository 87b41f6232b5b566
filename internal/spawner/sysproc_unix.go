//go:build unix

package spawner

import "syscall"

// detachSysProcAttr starts the child in its own session so it survives the
// parent CLI process exiting, matching the daemon's reentrant
// run-daemon contract.
func detachSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
