// Package main provides mv2tool, a command-line harness for creating,
// inspecting, and repairing .mv2 memory vault files.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sunilkgrao/mv2vault/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
