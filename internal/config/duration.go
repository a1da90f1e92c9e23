package config

import (
	"fmt"
	"strings"
	"time"
)

// duration parses a Go duration string at path. Empty yields def; anything
// shorter than min is rejected.
func duration(path, raw string, def, min time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if d < min {
		return 0, fmt.Errorf("%s must be >= %s, got %s", path, min, d)
	}
	return d, nil
}
