package hqsync

import (
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// RetryConfig bounds how often a record is re-queued before it is
// parked FAILED for operator attention.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func RetryConfigFromEnv() RetryConfig {
	return RetryConfig{
		MaxAttempts: config.IntFromEnv("SYNC_MAX_ATTEMPTS", 5),
		BaseBackoff: time.Duration(config.IntFromEnv("SYNC_BASE_BACKOFF_SECONDS", 5)) * time.Second,
		MaxBackoff:  time.Duration(config.IntFromEnv("SYNC_MAX_BACKOFF_SECONDS", 300)) * time.Second,
	}
}

// Backoff returns the delay before the next retry of a record that has
// already failed `attempts` times: base * 2^(attempts-1), capped.
func (c RetryConfig) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := c.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Exhausted reports whether a record that has now failed `attempts`
// times has hit the retry ceiling.
func (c RetryConfig) Exhausted(attempts int) bool {
	return attempts >= c.MaxAttempts
}

func newRemoteError(statusCode int, body []byte) error {
	return &utils.RemoteError{StatusCode: statusCode, Body: string(body)}
}
