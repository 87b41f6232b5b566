// Package spawner implements the spawner (spec §4.9): spawn_background,
// spawn_and_wait_for_socket, and stop_daemon, driving the same binary
// re-entrantly via its hidden run-daemon subcommand. Grounded on the
// teacher's internal/daemon/manager.go (detached exec.Command, PID
// liveness polling, SIGTERM-then-SIGKILL stop) and cmd/aegis/main.go's
// own poll loops (os.FindProcess + time.Sleep ticks waiting on PID/socket
// files).
package spawner

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/aegisorg/vm/internal/vmerrors"
	"github.com/aegisorg/vm/internal/vmstore"
)

const (
	pidWaitTimeout    = 5 * time.Second
	pidPollInterval   = 100 * time.Millisecond
	socketPollInterval = 200 * time.Millisecond
	stopPollInterval  = 500 * time.Millisecond
)

// SpawnBackground launches cmd with stdio detached to /dev/null and polls
// store for a valid vm.pid for up to 5s, returning the PID once present.
func SpawnBackground(cmd *exec.Cmd, store *vmstore.Store, vmName string) (int32, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = detachSysProcAttr()

	if err := cmd.Start(); err != nil {
		return 0, vmerrors.NewRunnerError(vmerrors.RunnerBootError, err.Error())
	}
	// Reap the process asynchronously; run-daemon is re-entrant and
	// long-lived, so this goroutine exits only when the VM stops.
	go cmd.Wait()

	deadline := time.Now().Add(pidWaitTimeout)
	for time.Now().Before(deadline) {
		if pid, running, _ := store.GetRunningPID(vmName); running {
			return pid, nil
		}
		time.Sleep(pidPollInterval)
	}
	return 0, vmerrors.NewBootError("VM failed to start", store.LogPath(vmName))
}

// WaitResult is spawn_and_wait_for_socket's return value.
type WaitResult struct {
	PID        int32
	SocketPath string
}

// SpawnAndWaitForSocket is SpawnBackground plus a poll for console.sock's
// existence, failing fast when checkCrash is set and the child has already
// exited.
func SpawnAndWaitForSocket(cmd *exec.Cmd, store *vmstore.Store, vmName string, timeout time.Duration, checkCrash bool) (*WaitResult, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = detachSysProcAttr()

	if err := cmd.Start(); err != nil {
		return nil, vmerrors.NewRunnerError(vmerrors.RunnerBootError, err.Error())
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	socketPath := store.ConsoleSockPath(vmName)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			pid, _, _ := store.GetRunningPID(vmName)
			return &WaitResult{PID: pid, SocketPath: socketPath}, nil
		}
		if checkCrash {
			select {
			case <-exited:
				return nil, vmerrors.NewBootError(
					fmt.Sprintf("Daemon exited … check %s", store.LogPath(vmName)),
					store.LogPath(vmName))
			default:
			}
		}
		time.Sleep(socketPollInterval)
	}
	return nil, vmerrors.NewBootError("VM failed to start", store.LogPath(vmName))
}

// StopDaemon sends SIGTERM to pid, polls liveness every 500ms up to
// timeout, then escalates to SIGKILL.
func StopDaemon(pid int32, timeout time.Duration) error {
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !isAlive(pid) {
			return nil
		}
		time.Sleep(stopPollInterval)
	}

	if !isAlive(pid) {
		return nil
	}
	if err := proc.Signal(syscall.SIGKILL); err != nil && err != os.ErrProcessDone {
		return err
	}
	time.Sleep(stopPollInterval)
	return nil
}

func isAlive(pid int32) bool {
	err := syscall.Kill(int(pid), 0)
	if err == nil || err == syscall.EPERM {
		return true
	}
	return false
}
