// Command progsync tracks course progress locally and syncs it with the
// remote progress service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/progsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
