package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbright/earshot/internal/cli"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/ipc"
	"github.com/rbright/earshot/internal/prefs"
)

func (r Runner) client() (*ipc.Client, error) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(socketPath), nil
}

func (r Runner) commandStatus(ctx context.Context) int {
	client, err := r.client()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, err := client.Status(ctx)
	if errors.Is(err, ipc.ErrNotRunning) {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	state := resp.State
	if state == "" {
		state = "idle"
	}
	fmt.Fprintln(r.Stdout, state)
	if resp.DebugInfo != "" {
		fmt.Fprintln(r.Stdout, resp.DebugInfo)
	}
	if resp.Error != "" {
		fmt.Fprintf(r.Stdout, "error: %s\n", resp.Error)
	}
	if resp.Transcript != "" {
		fmt.Fprintf(r.Stdout, "transcript: %s\n", resp.Transcript)
	}
	return 0
}

// commandStop asks the owner to stop; the owner prints the transcript.
func (r Runner) commandStop(ctx context.Context) int {
	return r.forwardOrFail(ctx, ipc.CommandStop)
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	client, err := r.client()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, err := client.Do(ctx, ipc.Request{Command: command})
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		if errors.Is(err, ipc.ErrNotRunning) {
			err = ipc.ErrNotRunning
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandGate prints or updates the thresholds. Updates are persisted first so
// they survive even when no session is running.
func (r Runner) commandGate(ctx context.Context, parsed cli.Parsed, cfg config.Config) int {
	store, err := gateStore()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	current, source, err := currentGate(store, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if parsed.NoiseGate == nil && parsed.MinSpeechLevel == nil {
		fmt.Fprintf(r.Stdout, "noise_gate=%d min_speech_level=%d (%s)\n", current.NoiseGate, current.MinSpeechLevel, source)
		return 0
	}

	if parsed.NoiseGate != nil {
		current.NoiseGate = *parsed.NoiseGate
	}
	if parsed.MinSpeechLevel != nil {
		current.MinSpeechLevel = *parsed.MinSpeechLevel
	}
	current.UpdatedAt = time.Now().UTC()
	if err := store.Save(current); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if current.MinSpeechLevel < current.NoiseGate {
		fmt.Fprintln(r.Stderr, "warning: min_speech_level is below noise_gate; quiet noise will count as speech")
	}

	fmt.Fprintf(r.Stdout, "noise_gate=%d min_speech_level=%d\n", current.NoiseGate, current.MinSpeechLevel)

	client, err := r.client()
	if err != nil {
		return 0
	}
	resp, err := client.SetGate(ctx, parsed.NoiseGate, parsed.MinSpeechLevel)
	if errors.Is(err, ipc.ErrNotRunning) {
		return 0
	}
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: update running session: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, "applied to running session")
	return 0
}

func gateStore() (*prefs.Store, error) {
	path, err := prefs.DefaultPath()
	if err != nil {
		return nil, err
	}
	return prefs.NewStore(path), nil
}

// currentGate prefers saved thresholds over the configured ones.
func currentGate(store *prefs.Store, cfg config.Config) (prefs.Gate, string, error) {
	saved, ok, err := store.Load()
	if err != nil {
		return prefs.Gate{}, "", err
	}
	if ok {
		return saved, "saved " + store.Path(), nil
	}
	return prefs.Gate{
		NoiseGate:      cfg.NoiseGate.Threshold,
		MinSpeechLevel: cfg.NoiseGate.MinSpeechLevel,
	}, "config", nil
}
