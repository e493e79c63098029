// Command docsync edits and inspects collaborative documents stored in a
// shared SQLite record store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/docsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
