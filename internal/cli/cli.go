// Package cli parses earshot's command line into a Parsed request.
package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	urfave "github.com/urfave/cli/v2"
)

type Command string

const (
	CommandListen  Command = "listen"
	CommandStop    Command = "stop"
	CommandReset   Command = "reset"
	CommandStatus  Command = "status"
	CommandGate    Command = "gate"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandHistory Command = "history"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// DefaultHistoryLimit is the number of entries `history` prints without --limit.
const DefaultHistoryLimit = 20

// Parsed is the resolved command and its options.
type Parsed struct {
	Command    Command
	ConfigPath string
	Debug      bool
	ShowHelp   bool

	// listen overrides; empty keeps the configured value.
	Language string
	Endpoint string

	// gate thresholds; nil leaves the threshold unchanged.
	NoiseGate      *int
	MinSpeechLevel *int

	HistoryLimit int
}

// Parse resolves args (without the binary name). Help output is written to
// stdout and reported through Parsed.ShowHelp. Every returned error is a usage
// error.
func Parse(args []string, stdout io.Writer) (Parsed, error) {
	parsed := Parsed{}
	app := newApp(&parsed, stdout)
	if err := app.Run(append([]string{app.Name}, args...)); err != nil {
		return Parsed{}, err
	}
	if parsed.Command == "" {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	}
	return parsed, nil
}

// HelpText renders the top-level usage.
func HelpText() string {
	var b bytes.Buffer
	_, _ = Parse([]string{"--help"}, &b)
	return b.String()
}

func newApp(parsed *Parsed, stdout io.Writer) *urfave.App {
	app := &urfave.App{
		Name:           "earshot",
		Usage:          "Continuous voice capture against a streaming recognizer",
		HideVersion:    true,
		Writer:         stdout,
		ErrWriter:      io.Discard,
		OnUsageError:   usageError,
		ExitErrHandler: func(*urfave.Context, error) {},
		Flags: []urfave.Flag{
			&urfave.StringFlag{Name: "config", Usage: "Config file path (default: $XDG_CONFIG_HOME/earshot/config.jsonc)"},
			&urfave.BoolFlag{Name: "debug", Usage: "Write debug-level logs"},
			&urfave.BoolFlag{Name: "version", Usage: "Print version information"},
		},
		Action: func(c *urfave.Context) error {
			if c.NArg() > 0 {
				return fmt.Errorf("unknown command: %s", c.Args().First())
			}
			if c.Bool("version") {
				return record(c, parsed, CommandVersion)
			}
			return urfave.ShowAppHelp(c)
		},
		Commands: []*urfave.Command{
			listenCmd(parsed),
			simpleCmd(parsed, CommandStop, "Stop the running session and print its transcript"),
			simpleCmd(parsed, CommandReset, "Clear the running session's transcript"),
			simpleCmd(parsed, CommandStatus, "Print the running session's state"),
			gateCmd(parsed),
			simpleCmd(parsed, CommandDevices, "List available input devices"),
			simpleCmd(parsed, CommandDoctor, "Run configuration and environment checks"),
			historyCmd(parsed),
			simpleCmd(parsed, CommandVersion, "Print version information"),
		},
	}
	return app
}

func listenCmd(parsed *Parsed) *urfave.Command {
	return &urfave.Command{
		Name:         string(CommandListen),
		Usage:        "Capture speech until stopped and print the transcript",
		OnUsageError: usageError,
		Flags: []urfave.Flag{
			&urfave.StringFlag{Name: "language", Aliases: []string{"l"}, Usage: "Recognition language (BCP-47)"},
			&urfave.StringFlag{Name: "endpoint", Usage: "Recognizer gRPC host:port"},
		},
		Action: func(c *urfave.Context) error {
			parsed.Language = c.String("language")
			parsed.Endpoint = c.String("endpoint")
			return record(c, parsed, CommandListen)
		},
	}
}

func gateCmd(parsed *Parsed) *urfave.Command {
	return &urfave.Command{
		Name:         string(CommandGate),
		Usage:        "Show or change the noise gate thresholds (0-255)",
		OnUsageError: usageError,
		Flags: []urfave.Flag{
			&urfave.IntFlag{Name: "noise", Usage: "Noise gate threshold"},
			&urfave.IntFlag{Name: "min-speech", Usage: "Minimum speech level"},
		},
		Action: func(c *urfave.Context) error {
			for _, name := range []string{"noise", "min-speech"} {
				if !c.IsSet(name) {
					continue
				}
				v := c.Int(name)
				if v < 0 || v > 255 {
					return fmt.Errorf("--%s must be within 0..255, got %d", name, v)
				}
				if name == "noise" {
					parsed.NoiseGate = &v
				} else {
					parsed.MinSpeechLevel = &v
				}
			}
			return record(c, parsed, CommandGate)
		},
	}
}

func historyCmd(parsed *Parsed) *urfave.Command {
	return &urfave.Command{
		Name:         string(CommandHistory),
		Usage:        "List recent transcripts",
		OnUsageError: usageError,
		Flags: []urfave.Flag{
			&urfave.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: DefaultHistoryLimit, Usage: "Maximum entries to print"},
		},
		Action: func(c *urfave.Context) error {
			parsed.HistoryLimit = c.Int("limit")
			if parsed.HistoryLimit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", parsed.HistoryLimit)
			}
			return record(c, parsed, CommandHistory)
		},
	}
}

func simpleCmd(parsed *Parsed, cmd Command, usage string) *urfave.Command {
	return &urfave.Command{
		Name:         string(cmd),
		Usage:        usage,
		OnUsageError: usageError,
		Action: func(c *urfave.Context) error {
			return record(c, parsed, cmd)
		},
	}
}

// record stores the command plus root options, rejecting stray arguments.
func record(c *urfave.Context, parsed *Parsed, cmd Command) error {
	if c.NArg() > 0 {
		return fmt.Errorf("unexpected arguments after command %q", cmd)
	}
	parsed.Command = cmd
	parsed.ConfigPath = c.String("config")
	parsed.Debug = c.Bool("debug")
	return nil
}

func usageError(_ *urfave.Context, err error, _ bool) error {
	if err == nil {
		return errors.New("invalid usage")
	}
	return err
}
