package config

import "strings"

// Format is the syntax a config file is written in.
type Format string

const (
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
)

// DetectFormat picks JSONC when the first non-whitespace character is `{`
// and YAML otherwise.
func DetectFormat(content string) Format {
	if strings.HasPrefix(strings.TrimSpace(content), "{") {
		return FormatJSONC
	}
	return FormatYAML
}

// Parse reads configuration content as JSONC or YAML and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		validatedWarnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, validatedWarnings, nil
	}

	var (
		payload fileConfig
		err     error
	)
	switch DetectFormat(trimmed) {
	case FormatJSONC:
		payload, err = decodeJSONC(content)
	default:
		payload, err = decodeYAML(content)
	}
	if err != nil {
		return Config{}, nil, err
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}
