package util

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrEnvNotSet = errors.New("environment variable is not set")

// ExpandEnvStrict replaces ${NAME} and ${NAME:-fallback} references. A bare
// reference to an unset variable is an error; every missing name is reported.
func ExpandEnvStrict(s string) (string, error) {
	var missing []error
	out := os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v, ok := os.LookupEnv(name); ok && (v != "" || !hasFallback) {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, fmt.Errorf("%w: %s", ErrEnvNotSet, name))
		return ""
	})
	if len(missing) > 0 {
		return "", errors.Join(missing...)
	}
	return out, nil
}
