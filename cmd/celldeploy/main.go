// Command celldeploy deploys contract cells and dep groups to a CKB node and
// keeps a per-environment migration history so that later runs only pay for
// what changed.
//
// Usage:
//
//	celldeploy deploy --address ckt1... [--fee 0.0001] [--env dev] [--migrate on]
//	celldeploy plan --address ckt1...
//	celldeploy status [--env dev]
//	celldeploy history [--reindex] [--cell NAME]
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/artpar/celldeploy/internal/shell/prompt"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := NewRootCmd(os.Stdin, os.Stdout, os.Stderr)
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err != nil {
		prompt.Errorf(os.Stderr, "%s", err)
	}
	return ExitCode(err)
}
