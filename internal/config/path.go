package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFile     = "config.jsonc"
	yamlConfigFile = "config.yaml"

	// PathEnv names a config file when --config is absent. E-reader shells
	// often run without HOME or XDG variables.
	PathEnv = "MIRKOBO_CONFIG"
)

// ResolvePath picks the config location: --config, then $MIRKOBO_CONFIG,
// then the XDG and home fallbacks.
func ResolvePath(explicit string) (string, error) {
	path, _, err := resolvePath(explicit)
	return path, err
}

// resolvePath also reports whether the path came from a fallback rather
// than being named by the user.
func resolvePath(explicit string) (string, bool, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, false, nil
	}
	if env := strings.TrimSpace(os.Getenv(PathEnv)); env != "" {
		return env, false, nil
	}
	path, err := defaultPath()
	return path, true, err
}

func defaultPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "mirkobo", configFile), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "mirkobo", configFile), nil
}

// yamlSibling returns config.yaml next to an implicit config.jsonc path
// when only the YAML file exists.
func yamlSibling(resolved string) (string, bool) {
	if filepath.Base(resolved) != configFile {
		return "", false
	}
	if _, err := os.Stat(resolved); err == nil {
		return "", false
	}
	candidate := filepath.Join(filepath.Dir(resolved), yamlConfigFile)
	if _, err := os.Stat(candidate); err != nil {
		return "", false
	}
	return candidate, true
}
