package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/cli"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/history"
)

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandHistory(ctx context.Context, parsed cli.Parsed, cfg config.Config) int {
	path, err := historyPath(cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.List(ctx, parsed.HistoryLimit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no transcripts recorded")
		return 0
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %s  %5.1fs  %s",
			e.FinishedAt.Local().Format(time.DateTime),
			e.ID,
			e.Duration().Seconds(),
			e.Transcript,
		)
		if e.ErrorKind != "" {
			line += fmt.Sprintf("  [%s: %s]", e.ErrorKind, e.ErrorMessage)
		}
		fmt.Fprintln(r.Stdout, strings.TrimRight(line, " "))
	}
	return 0
}

func historyPath(cfg config.Config) (string, error) {
	if p := strings.TrimSpace(cfg.History.Path); p != "" {
		return p, nil
	}
	return history.DefaultPath()
}
