// Package doctor runs readiness diagnostics for config, audio, the recognizer,
// and the optional event bus.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/logging"
	"github.com/rbright/earshot/internal/recognizer"
)

const busTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live checks doctor performs. Zero fields use the real
// implementations.
type Probes struct {
	SelectDevice func(ctx context.Context, input, fallback string) (audio.Selection, error)
	Health       func(ctx context.Context, endpoint string, timeout time.Duration) (recognizer.Health, error)
	StateDir     func() (string, error)
}

func (p Probes) withDefaults() Probes {
	if p.SelectDevice == nil {
		p.SelectDevice = audio.SelectDevice
	}
	if p.Health == nil {
		p.Health = recognizer.CheckHealth
	}
	if p.StateDir == nil {
		p.StateDir = logging.StateDir
	}
	return p
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, probes Probes) Report {
	probes = probes.withDefaults()
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the control socket", "XDG_RUNTIME_DIR is empty; the control socket is unavailable"))

	checks = append(checks, checkAudioSelection(ctx, cfg.Config, probes.SelectDevice))
	checks = append(checks, checkRecognizer(ctx, cfg.Config, probes.Health))
	if strings.TrimSpace(cfg.Config.Bus.URL) != "" {
		checks = append(checks, checkBus(cfg.Config.Bus.URL))
	}
	checks = append(checks, checkStateDir(probes.StateDir))

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("using defaults (%q not found)", cfg.Path)
	}
	if n := len(cfg.Warnings); n > 0 && cfg.Exists {
		message = fmt.Sprintf("%s with %d warning(s)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, string) (audio.Selection, error),
) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkRecognizer(
	ctx context.Context,
	cfg config.Config,
	health func(context.Context, string, time.Duration) (recognizer.Health, error),
) Check {
	endpoint := strings.TrimSpace(cfg.Recognizer.Endpoint)
	if endpoint == "" {
		return Check{Name: "recognizer.health", Pass: false, Message: "recognizer endpoint is empty"}
	}
	h, err := health(ctx, endpoint, cfg.Recognizer.DialTimeout)
	if err != nil {
		return Check{Name: "recognizer.health", Pass: false, Message: err.Error()}
	}
	return Check{
		Name:    "recognizer.health",
		Pass:    h.Serving,
		Message: fmt.Sprintf("%s at %s", h.Detail, endpoint),
	}
}

func checkBus(url string) Check {
	conn, err := nats.Connect(url, nats.Name("earshot-doctor"), nats.Timeout(busTimeout), nats.NoReconnect())
	if err != nil {
		return Check{Name: "bus", Pass: false, Message: fmt.Sprintf("connect %s: %v", url, err)}
	}
	defer conn.Close()
	return Check{Name: "bus", Pass: true, Message: fmt.Sprintf("connected to %s", conn.ConnectedUrlRedacted())}
}

// checkStateDir verifies log and history files can be created.
func checkStateDir(resolve func() (string, error)) Check {
	dir, err := resolve()
	if err != nil {
		return Check{Name: "state.dir", Pass: false, Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: "state.dir", Pass: false, Message: err.Error()}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: "state.dir", Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Check{Name: "state.dir", Pass: true, Message: fmt.Sprintf("writable %s", filepath.Clean(dir))}
}
