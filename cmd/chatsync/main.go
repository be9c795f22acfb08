// Command chatsync runs the conversation sync engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/chatsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
