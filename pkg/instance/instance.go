package instance

import (
	"os"

	"github.com/angelmondragon/marketsettle-backend/pkg/env"
)

// GetID returns the identifier of this process for lock ownership and logs.
// MARKETSETTLE_INSTANCE_ID wins over the hostname.
func GetID() string {
	fallback := "worker-0"
	if host, err := os.Hostname(); err == nil && host != "" {
		fallback = host
	}
	return env.Get("MARKETSETTLE_INSTANCE_ID", fallback)
}
