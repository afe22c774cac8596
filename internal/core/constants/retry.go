package constants

import "time"

// Backoff tuning shared by the backend health tracker and connection retry paths.
const (
	DefaultMaxBackoffMultiplier = 12
	DefaultMaxBackoffSeconds    = 60 * time.Second
	DefaultRetryInterval        = 2 * time.Second

	ConnectionRetryBackoffMultiplier = 2
)
