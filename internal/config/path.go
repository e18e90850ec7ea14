package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FileName is the config file looked up under the XDG config dir.
	FileName = "config.jsonc"
	// PathEnv names a config file when --config is not given.
	PathEnv = "EARSHOT_CONFIG"
)

// ResolvePath picks the config file: --config, then $EARSHOT_CONFIG, then
// $XDG_CONFIG_HOME/earshot, then ~/.config/earshot. A leading ~/ is expanded.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(PathEnv)} {
		if p := strings.TrimSpace(candidate); p != "" {
			return expandHome(p)
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "earshot", FileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return filepath.Join(home, ".config", "earshot", FileName), nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
