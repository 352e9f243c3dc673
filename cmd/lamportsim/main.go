// Command lamportsim drives Lamport logical-clock simulations: it runs a
// scenario over a set of processes, prints each process's clock trace,
// verifies the causal order and optionally archives the run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const version = "1.0.0"

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitViolations = 3
)

// errViolations is returned by commands whose verification found causal
// violations. It maps to exitViolations.
var errViolations = errors.New("causal violations detected")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	defer a.Close()

	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errViolations) {
		fmt.Fprintf(stderr, "lamportsim: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errViolations):
		return exitViolations
	default:
		return exitError
	}
}
