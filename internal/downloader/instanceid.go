package downloader

import (
	"os"

	"github.com/google/uuid"
)

// NewRunID returns a unique id for one download run, prefixed with the host
// so logs from several machines sharing a store can be told apart.
func NewRunID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}

	return host + "-" + uuid.NewString()[:8]
}
