// Package main is the entry point for the sitedeploy CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relicta-tech/sitedeploy/internal/cli"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	buildversion "github.com/relicta-tech/sitedeploy/internal/version"
)

// Version information set by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

// exitCanceled is the conventional exit code after SIGINT.
const exitCanceled = 130

// shutdownSignals cancel the run. SIGHUP covers a dropped operator session.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// reportError prints a failed run; replaced in tests.
var reportError = cli.PrintError

func main() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, shutdownSignals...)

	cli.SetVersionInfo(buildversion.Resolve(version), commit, date)

	code := run(context.Background(), sigChan, cli.ExecuteContext, cli.Cleanup, os.Stderr, os.Exit)
	os.Exit(code)
}

// run executes the CLI, translating signals into context cancellation. A
// second signal, or a shutdown that overruns shutdownTimeout, forces exit
// after cleanup so the deploy lock signature is not left behind.
func run(parent context.Context, sigChan <-chan os.Signal, execute func(context.Context) error, cleanup func(), stderr io.Writer, exit func(int)) int {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	handlerDone := make(chan struct{})

	go func() {
		defer close(handlerDone)

		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		fmt.Fprintf(stderr, "\nReceived signal %v, stopping after the current step...\n", sig)
		cancel()

		shutdownTimer := time.NewTimer(shutdownTimeout)
		defer shutdownTimer.Stop()

		select {
		case <-done:
		case <-shutdownTimer.C:
			fmt.Fprintf(stderr, "\nShutdown timeout (%v) exceeded, forcing exit\n", shutdownTimeout)
			cleanup()
			exit(1)
		case sig = <-sigChan:
			fmt.Fprintf(stderr, "\nReceived second signal %v, forcing exit\n", sig)
			cleanup()
			exit(1)
		}
	}()

	err := execute(ctx)

	close(done)
	<-handlerDone
	cleanup()

	if err == nil {
		return 0
	}
	if ctx.Err() != nil || errors.Is(err, sderrors.ErrCanceled) {
		fmt.Fprintln(stderr, "Operation canceled")
		return exitCanceled
	}
	reportError(err)
	return sderrors.ExitCode(err)
}
