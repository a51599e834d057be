// Package main is the mangod operator binary.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/cli"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = Version

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
