package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// parseArgv splits a shell-like command line. $VAR and ${VAR} expand from
// the environment outside single quotes; there is no other shell syntax.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	if strings.HasPrefix(input, "#") {
		return nil, nil
	}

	var (
		argv    []string
		current strings.Builder
		pending strings.Builder
		quote   rune
		escape  bool
		started bool
	)

	// expandPending moves buffered expandable text into the current word.
	expandPending := func() {
		current.WriteString(os.ExpandEnv(pending.String()))
		pending.Reset()
	}
	flush := func() {
		expandPending()
		if !started {
			return
		}
		argv = append(argv, current.String())
		current.Reset()
		started = false
	}

	for _, r := range input {
		switch {
		case escape:
			expandPending()
			current.WriteRune(r)
			escape = false
		case r == '\\':
			started = true
			escape = true
		case quote == '\'':
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			pending.WriteRune(r)
		case r == '\'' || r == '"':
			started = true
			expandPending()
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			started = true
			pending.WriteRune(r)
		}
	}

	if escape {
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}

	flush()
	return argv, nil
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}
