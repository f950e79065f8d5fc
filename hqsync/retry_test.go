package hqsync

import (
	"testing"
	"time"
)

func TestRetryConfigBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  60 * time.Second,
	}
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Second}, // clamped to first attempt
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second}, // capped
		{10, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.Backoff(tc.attempts); got != tc.want {
			t.Fatalf("attempts=%d: expected %s, got %s", tc.attempts, tc.want, got)
		}
	}
}

func TestRetryConfigExhausted(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3}
	if cfg.Exhausted(2) {
		t.Fatalf("2 of 3 attempts must not be exhausted")
	}
	if !cfg.Exhausted(3) {
		t.Fatalf("3 of 3 attempts must be exhausted")
	}
	if !cfg.Exhausted(4) {
		t.Fatalf("past the ceiling must stay exhausted")
	}
}

func TestRetryConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SYNC_MAX_ATTEMPTS", "")
	t.Setenv("SYNC_BASE_BACKOFF_SECONDS", "")
	t.Setenv("SYNC_MAX_BACKOFF_SECONDS", "")
	cfg := RetryConfigFromEnv()
	if cfg.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != 5*time.Second {
		t.Fatalf("expected default base backoff 5s, got %s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 300*time.Second {
		t.Fatalf("expected default max backoff 300s, got %s", cfg.MaxBackoff)
	}

	t.Setenv("SYNC_MAX_ATTEMPTS", "8")
	t.Setenv("SYNC_BASE_BACKOFF_SECONDS", "2")
	cfg = RetryConfigFromEnv()
	if cfg.MaxAttempts != 8 || cfg.BaseBackoff != 2*time.Second {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}
