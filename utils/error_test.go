package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRemoteErrorRetryable(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{0, true},   // never got a response
		{408, true}, // request timeout
		{429, true}, // rate limited
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
		{409, false},
		{422, false},
	}
	for _, tc := range cases {
		err := &RemoteError{StatusCode: tc.status, Body: "x"}
		if got := err.Retryable(); got != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
		if got := IsRetryableSyncError(err); got != tc.retryable {
			t.Fatalf("status %d via classifier: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
	}
}

func TestIsRetryableSyncError_WrappedAndContext(t *testing.T) {
	wrapped := fmt.Errorf("push batch: %w", &RemoteError{StatusCode: 503, Body: "busy"})
	if !IsRetryableSyncError(wrapped) {
		t.Fatalf("wrapped 503 must be retryable")
	}
	if !IsRetryableSyncError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded must be retryable")
	}
	if IsRetryableSyncError(nil) {
		t.Fatalf("nil error must not be retryable")
	}
	if IsRetryableSyncError(errors.New("validation: amount missing")) {
		t.Fatalf("plain errors must default to terminal")
	}
}

func TestLocalStoreErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &LocalStoreError{Op: "InsertRefund", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("LocalStoreError must unwrap to its cause")
	}
	if IsRetryableSyncError(err) {
		t.Fatalf("local store failures are not remote retryables")
	}
}
