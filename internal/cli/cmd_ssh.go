package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/aegisorg/vm/internal/vmerrors"
)

// cmdSSH implements `vm ssh <name> [-l user] [-p port] [-- <ssh args>]`:
// resolves the VM's primary IPv4 from network-info.json and execs the
// system `ssh` binary against it, using the VM's ssh_config when present.
func (a *App) cmdSSH(args []string) error {
	var passthrough []string
	for i, arg := range args {
		if arg == "--" {
			passthrough = args[i+1:]
			args = args[:i]
			break
		}
	}

	s, err := scanArgs(args, map[string]bool{"l": true, "p": true})
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm ssh <name> [-l user] [-p port] [-- ssh-args...]")
	}
	name := pos[0]

	if running, _ := a.Store.IsRunning(name); !running {
		return vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, fmt.Sprintf("%s is not running", name))
	}

	netInfo, err := a.Store.LoadNetworkInfo(name)
	if err != nil {
		return err
	}
	if netInfo == nil {
		return vmerrors.NewRunnerError(vmerrors.RunnerConfigurationError, "VM may still be starting up")
	}
	ip, ok := netInfo.PrimaryIPv4()
	if !ok {
		return fmt.Errorf("no IPv4 address reported for %q yet", name)
	}

	var sshArgs []string
	if _, err := os.Stat(a.Store.SSHConfigPath(name)); err == nil {
		sshArgs = append(sshArgs, "-F", a.Store.SSHConfigPath(name))
	}
	if user := s.String("l", ""); user != "" {
		sshArgs = append(sshArgs, "-l", user)
	}
	if port := s.String("p", ""); port != "" {
		sshArgs = append(sshArgs, "-p", port)
	}
	sshArgs = append(sshArgs, ip)
	sshArgs = append(sshArgs, passthrough...)

	sshBin, err := exec.LookPath("ssh")
	if err != nil {
		return fmt.Errorf("ssh: %w", err)
	}
	cmd := exec.Command(sshBin, sshArgs...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return cmd.Run()
}
