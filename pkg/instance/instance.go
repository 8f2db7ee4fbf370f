package instance

import (
	"os"

	"github.com/angelmondragon/rentescrow-backend/pkg/env"
)

// GetID returns the worker instance identifier used to own cron locks and
// stamp consumer logs. HOSTNAME is used when WORKER_ID is unset so pods get
// distinct identities.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
