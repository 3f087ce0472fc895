package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Source records where the config path came from.
type Source string

const (
	SourceFlag    Source = "--config"
	SourceEnv     Source = "$" + PathEnv
	SourceDefault Source = "default"
)

// Loaded is the outcome of Load. Format is empty when no file was read.
type Loaded struct {
	Path     string
	Source   Source
	Format   Format
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves the config path, reads it when present, and returns the
// validated configuration. A missing file yields defaults and a warning.
func Load(explicitPath string) (Loaded, error) {
	loaded, err := locate(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	content, err := os.ReadFile(loaded.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Config = Default()
		loaded.Warnings = []Warning{{
			Message: fmt.Sprintf("config file %q (%s) not found; using defaults", loaded.Path, loaded.Source),
		}}
		return loaded, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", loaded.Path, err)
	}

	loaded.Exists = true
	loaded.Format = DetectFormat(string(content))
	loaded.Config, loaded.Warnings, err = Parse(string(content), Default())
	if err != nil {
		return Loaded{}, fmt.Errorf("parse %s config %q: %w", loaded.Format, loaded.Path, err)
	}
	return loaded, nil
}

// locate applies path precedence and, for the implicit path only, the
// config.yaml sibling fallback.
func locate(explicitPath string) (Loaded, error) {
	path, implicit, err := resolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	source := SourceDefault
	switch {
	case !implicit && strings.TrimSpace(explicitPath) != "":
		source = SourceFlag
	case !implicit:
		source = SourceEnv
	default:
		if alt, ok := yamlSibling(path); ok {
			path = alt
		}
	}
	return Loaded{Path: path, Source: source}, nil
}
