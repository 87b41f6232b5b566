package cli

import (
	"context"
	"fmt"

	"github.com/aegisorg/vm/internal/daemon"
)

var runDaemonValueFlags = map[string]bool{"target-disk": true}

// cmdRunDaemon implements the hidden, reentrant `run-daemon <name> [--iso]
// [--rescue --target-disk <path>]` (spec §4.8): this is the command the
// spawner re-execs into; it never returns until the VM stops or is
// signalled to stop.
func (a *App) cmdRunDaemon(args []string) error {
	s, err := scanArgs(args, runDaemonValueFlags)
	if err != nil {
		return err
	}
	pos := s.Positionals()
	if len(pos) != 1 {
		return fmt.Errorf("usage: vm run-daemon <name> [--iso] [--rescue --target-disk PATH]")
	}

	opts := daemon.Options{
		Name:               pos[0],
		AttachISO:          s.Bool("iso"),
		Rescue:             s.Bool("rescue"),
		TargetDisk:         s.String("target-disk", ""),
		CloudHypervisorBin: a.Config.CloudHypervisorBin,
	}

	return daemon.Run(context.Background(), a.Store, a.network(), opts, a.Events)
}
