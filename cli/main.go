package cli

import (
	"context"
	"fmt"
	"io"
)

// Execute runs the CLI with args and returns the process exit code. Failures
// are reported on stderr with their message, which names the error kind.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := RootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
