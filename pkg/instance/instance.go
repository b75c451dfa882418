package instance

import (
	"fmt"
	"os"
)

// GetID returns the process identity used as a lock owner. VYRIS_INSTANCE_ID
// wins; otherwise hostname and pid are combined so two workers on one host differ.
func GetID() string {
	if id := os.Getenv("VYRIS_INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
