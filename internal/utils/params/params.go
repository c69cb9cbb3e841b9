package params

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Parse parses `KEY=VALUE` params into a map. A bare `KEY` takes its value
// from the environment variable with the same name.
func Parse(raw []string) (map[string]string, error) {
	params := make(map[string]string, len(raw))

	for _, p := range raw {
		if p == "" {
			return nil, fmt.Errorf("param cannot be empty")
		}

		if key, value, ok := strings.Cut(p, "="); ok {
			if !isValidKey(key) {
				return nil, fmt.Errorf("invalid param key %q", key)
			}

			params[key] = value
			continue
		}

		if !isValidKey(p) {
			return nil, fmt.Errorf("invalid param key %q", p)
		}

		value, ok := os.LookupEnv(p)
		if !ok {
			return nil, fmt.Errorf("environment variable %q is not set", p)
		}

		params[p] = value
	}

	return params, nil
}

func isValidKey(k string) bool {
	return keyRegexp.MatchString(k)
}
