// Command syncore runs the budget sync core from the command line.
package main

import (
	"os"

	"github.com/offshore-budgeting/syncore/internal/cli"
)

func main() {
	os.Exit(cli.GetExitCode(cli.Execute()))
}
