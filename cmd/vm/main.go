// Command vm is the CLI entrypoint: create, import, start, stop, attach,
// ssh, ip, info, list, edit, resize, delete, rescue, and the hidden
// reentrant run-daemon subcommand the spawner re-execs into.
package main

import (
	"os"

	"github.com/aegisorg/vm/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
