// Package main provides the earshot CLI process entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/earshot/internal/app"
)

// forcedExitCode is returned when a second signal arrives during shutdown.
const forcedExitCode = 130

// main cancels the run on the first SIGINT/SIGTERM so a capture session can
// flush its transcript; a second signal exits immediately.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
		<-signals
		fmt.Fprintln(os.Stderr, "earshot: interrupted again, exiting without waiting")
		os.Exit(forcedExitCode)
	}()

	exitCode := app.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	signal.Stop(signals)
	os.Exit(exitCode)
}
