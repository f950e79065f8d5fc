package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// RefundEpsilon absorbs float rounding on refund comparisons
// (0.005 currency units).
var RefundEpsilon = decimal.NewFromFloat(0.005)

// ExceedsWithEpsilon reports whether amount is greater than limit by more
// than the rounding epsilon.
func ExceedsWithEpsilon(amount, limit decimal.Decimal) bool {
	return amount.Sub(limit).GreaterThan(RefundEpsilon)
}

type lockObtainer interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ObtainResourceLock grabs a Redis lock scoped to a resource key and
// returns a release func. Redis locking is contention avoidance only:
// correctness must not depend on it, the workflows also serialize via
// MySQL advisory locks scoped to the same key. When Redis is down or the
// lock is already held, the caller proceeds under the advisory lock
// alone and never sees an error.
func ObtainResourceLock(ctx context.Context, lockType string, key string, moduleName string, functionName string) (release func(), err error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	return obtainResourceLock(ctx, locker, lockType, key, moduleName, functionName)
}

func obtainResourceLock(ctx context.Context, locker lockObtainer, lockType string, key string, moduleName string, functionName string) (func(), error) {
	noop := func() {}
	lockKey := fmt.Sprintf("%s:%s", lockType, key)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return noop, nil
	} else if err != nil {
		config.LogError(config.GetLogger(), moduleName, functionName, "Error obtaining resource lock", lockKey, err)
		return noop, nil
	}
	return func() {
		_ = lock.Release(ctx)
	}, nil
}

// GenerateBatchNo builds the human label for a cash-drawer batch,
// e.g. "R3-20260829-093015".
func GenerateBatchNo(registerId int, startedAt time.Time) string {
	return fmt.Sprintf("R%d-%s", registerId, startedAt.Format("20060102-150405"))
}
