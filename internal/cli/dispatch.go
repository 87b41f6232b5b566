package cli

import (
	"fmt"
	"os"
)

// Run dispatches os.Args[1:] to the matching command and returns the
// process exit code: 0 on success, nonzero with a single "error: ..." line
// on any *Error (spec §6 "Exit codes").
func Run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	verb, rest := args[0], args[1:]

	switch verb {
	case "help", "--help", "-h":
		usage()
		return 0
	case "version", "--version":
		fmt.Println("vm 1.0.0")
		return 0
	}

	app, err := NewApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer app.Close()

	switch verb {
	case "create":
		err = app.cmdCreate(rest)
	case "import":
		err = app.cmdImport(rest)
	case "start":
		err = app.cmdStart(rest)
	case "stop":
		err = app.cmdStop(rest)
	case "attach", "console":
		err = app.cmdAttach(rest)
	case "ssh":
		err = app.cmdSSH(rest)
	case "ip":
		err = app.cmdIP(rest)
	case "info":
		err = app.cmdInfo(rest)
	case "list":
		err = app.cmdList(rest)
	case "edit":
		err = app.cmdEdit(rest)
	case "resize":
		err = app.cmdResize(rest)
	case "delete":
		err = app.cmdDelete(rest)
	case "rescue":
		err = app.cmdRescue(rest)
	case "run-daemon":
		err = app.cmdRunDaemon(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", verb)
		usage()
		return 1
	}

	if err != nil {
		// `vm ip` prints the bare address with no trailing newline and no
		// "error:" prefix on success; on failure it still goes through
		// this common path.
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Println(`Usage: vm <command> [options]

Commands:
  create <name>     Create a new VM
  import <name>     Import an existing disk image as a new VM
  start <name>      Start a VM
  stop <name>       Stop a running VM
  attach <name>     Attach an interactive console session (alias: console)
  ssh <name>        SSH into a running VM's guest
  info <name>       Show one VM's details
  list              List all VMs
  edit <name>       Change a VM's CPU/memory configuration
  resize <name>     Grow a VM's disk
  delete <name>     Delete a VM
  rescue <name>     Boot the reserved rescue VM against <name>'s disk

Examples:
  vm create ubuntu --cpus 2 --memory 4G --disk-size 64G
  vm start ubuntu --interactive
  vm attach ubuntu
  vm list --format json
  vm resize ubuntu --size 128G
  vm delete ubuntu`)
}
