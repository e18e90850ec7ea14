// Package app dispatches earshot commands and wires the capture runtime.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/cli"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/doctor"
	"github.com/rbright/earshot/internal/logging"
	"github.com/rbright/earshot/internal/recognizer"
	"github.com/rbright/earshot/internal/version"
)

// Engine is a recognizer that owns a connection released by Close.
type Engine interface {
	recognizer.Engine
	io.Closer
}

// Runner executes one CLI invocation.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// Source overrides the Pulse capture source.
	Source audio.Source
	// NewEngine overrides the gRPC streaming engine.
	NewEngine func(cfg config.Config, source audio.Source, logger *slog.Logger) (Engine, error)
	// Probes overrides doctor's live checks.
	Probes doctor.Probes
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args, r.Stdout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText())
		return 2
	}

	if parsed.ShowHelp {
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(logging.Options{Debug: parsed.Debug, Component: string(parsed.Command)})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
		if !cfgLoaded.Exists {
			// Running on defaults is normal; only the log records it.
			continue
		}
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandListen:
		return r.commandListen(ctx, parsed, cfgLoaded.Config, logger)
	case cli.CommandStop:
		return r.commandStop(ctx)
	case cli.CommandReset:
		return r.forwardOrFail(ctx, "reset")
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandGate:
		return r.commandGate(ctx, parsed, cfgLoaded.Config)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, r.Probes)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandHistory:
		return r.commandHistory(ctx, parsed, cfgLoaded.Config)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}
