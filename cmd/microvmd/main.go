// cmd/microvmd is the command-line interface to the virtual memory subsystem simulator: it boots
// staged process images and drives their faults through the kernel's page-table, cache, and MPU
// machinery.
package main

import (
	"context"
	"os"

	"github.com/smoynes/elsie/internal/cli"
	kernelcli "github.com/smoynes/elsie/internal/kernel/cli"
)

var commands = []cli.Command{
	kernelcli.Run(),
	kernelcli.Inspect(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(kernelcli.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
