// Package envutil reads configuration from the environment.
package envutil

import (
	"os"
	"strings"
)

// Prefix namespaces painter variables in shared environments
const Prefix = "PAINTER_"

// Get returns the value of key, falling back to PAINTER_<key>, then to
// fallback. An empty value counts as unset.
func Get(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if !strings.HasPrefix(key, Prefix) {
		if value, ok := os.LookupEnv(Prefix + key); ok && value != "" {
			return value
		}
	}
	return fallback
}
