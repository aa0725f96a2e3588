package scenesync

import (
	"fmt"
	"os"
	"time"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// durationFromEnv reads key as a time.Duration, keeping current when unset.
func durationFromEnv(key string, current time.Duration) (time.Duration, error) {
	raw := GetEnvOrDefault(key, "")
	if raw == "" {
		return current, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return current, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return current, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
