// Command mql compiles and runs metadata queries over a file catalog.
package main

import (
	"fmt"
	"os"

	"github.com/ivmfnal/metacat-sub001/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mql:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
