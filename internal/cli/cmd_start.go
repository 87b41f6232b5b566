package cli

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/aegisorg/vm/internal/consoleclient"
	"github.com/aegisorg/vm/internal/spawner"
	"github.com/aegisorg/vm/internal/vmerrors"
)

const (
	normalSocketWait = 10 * time.Second
	rescueSocketWait = 15 * time.Second
	stopSigtermGrace = 15 * time.Second
)

var startValueFlags = map[string]bool{}

// cmdStart implements `vm start <name> [-i|--interactive] [--iso]` (spec
// §6/§4.9): loads the config, re-execs ourselves into the hidden
// `run-daemon` subcommand via the spawner, and optionally attaches an
// interactive console once console.sock exists. --iso is accepted but not
// passed on to run-daemon, so the VM starts without its ISO attached.
func (a *App) cmdStart(args []string) error {
	s, err := scanArgs(args, startValueFlags)
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm start <name> [-i|--interactive] [--iso]")
	}
	name := pos[0]
	interactive := s.Bool("i") || s.Bool("interactive")
	return a.startAndAttach(name, interactive)
}

func (a *App) startAndAttach(name string, interactive bool) error {
	if _, err := a.Store.LoadConfiguration(name); err != nil {
		return err
	}
	if running, _ := a.Store.IsRunning(name); running {
		return vmerrors.NewRunnerError(vmerrors.RunnerAlreadyRunning, name)
	}

	exe, err := exePath()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "run-daemon", name)

	result, err := spawner.SpawnAndWaitForSocket(cmd, a.Store, name, normalSocketWait, true)
	if err != nil {
		a.record(name, "start", err.Error(), false)
		return err
	}
	a.record(name, "start", "", true)
	fmt.Printf("Started VM %q (pid %d)\n", name, result.PID)

	if !interactive {
		return nil
	}
	return attachSession(result.SocketPath)
}

// cmdStop implements `vm stop <name> [-f|--force]` (spec §6, scenario 2):
// sends SIGTERM and waits up to 15s for a clean exit; -f skips the wait
// and escalates immediately via the spawner's own SIGKILL fallback.
func (a *App) cmdStop(args []string) error {
	s, err := scanArgs(args, map[string]bool{})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm stop <name> [-f|--force]")
	}
	name := pos[0]

	pid, running, err := a.Store.GetRunningPID(name)
	if err != nil {
		return err
	}
	if !running {
		fmt.Printf("VM %q is not running\n", name)
		return nil
	}

	grace := stopSigtermGrace
	if s.Bool("f") || s.Bool("force") {
		grace = 0
	}
	if err := spawner.StopDaemon(pid, grace); err != nil {
		a.record(name, "stop", err.Error(), false)
		return vmerrors.NewRunnerError(vmerrors.RunnerRuntimeError, err.Error())
	}

	if stillRunning, _ := a.Store.IsRunning(name); stillRunning {
		fmt.Printf("VM %q did not stop gracefully; try `vm stop %s --force`\n", name, name)
		a.record(name, "stop", "force-stop hint shown", false)
		return nil
	}

	_ = a.Store.ClearRuntimeInfo(name)
	a.record(name, "stop", "", true)
	fmt.Printf("Stopped VM %q\n", name)
	return nil
}

// attachSession runs one interactive console session against socketPath,
// printing the detach messages the way the teacher's interactive exec path
// surfaces status text to the user.
func attachSession(socketPath string) error {
	client := consoleclient.DefaultStdioClient(socketPath, func(msg string) {
		fmt.Println(msg)
	})
	if err := client.Run(); err != nil {
		return err
	}
	return nil
}

// cmdAttach implements `vm attach <name>` (alias `console`): polls for the
// console socket if the VM may still be starting up, then runs an
// interactive session.
func (a *App) cmdAttach(args []string) error {
	s, err := scanArgs(args, map[string]bool{})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm attach <name>")
	}
	name := pos[0]

	if running, _ := a.Store.IsRunning(name); !running {
		return vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, fmt.Sprintf("%s is not running", name))
	}

	socketPath := a.Store.ConsoleSockPath(name)
	if err := waitForConnectable(socketPath, 3*time.Second); err != nil {
		return vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, "VM may still be starting up")
	}
	return attachSession(socketPath)
}

func waitForConnectable(path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if probeConnect(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
