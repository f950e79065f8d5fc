package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// Business-rule errors. These are returned to callers and must stay
// user-visible; the sync engine never swallows them.
var (
	ErrBatchAlreadyOpen   = errors.New("an open batch already exists for this register")
	ErrBatchAlreadyClosed = errors.New("batch is already closed")
	ErrNoOpenBatch        = errors.New("no open batch for this register")
	ErrOverRefund         = errors.New("refund amount exceeds remaining refundable balance")
)

// RemoteError is a structured failure from the HQ API. StatusCode 0 means
// the request never got an HTTP response (dial/timeout).
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("hq api unreachable: %s", e.Body)
	}
	return fmt.Sprintf("hq api error %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Retryable reports whether the sync engine may re-queue the record.
// Timeouts, connection failures, 408/429 and 5xx are transient; other
// 4xx responses mean the payload was rejected and will never succeed.
func (e *RemoteError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// LocalStoreError wraps persistence failures so they are never confused
// with remote rejections. Always surfaced, never silently swallowed.
type LocalStoreError struct {
	Op  string
	Err error
}

func (e *LocalStoreError) Error() string {
	return fmt.Sprintf("local store failure in %s: %v", e.Op, e.Err)
}

func (e *LocalStoreError) Unwrap() error { return e.Err }

// IsDuplicateKeyError reports whether err is a MySQL unique-constraint
// violation (1062). Lets concurrent upserts treat the losing insert as
// "row exists" instead of a failure.
func IsDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// IsRetryableSyncError classifies an error from a sync attempt.
// Network-level failures and transient remote errors are retryable;
// remote validation rejections are terminal.
func IsRetryableSyncError(err error) bool {
	if err == nil {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return false
}
