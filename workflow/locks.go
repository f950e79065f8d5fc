package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireRegisterLock serializes batch open/close per register using
// MySQL advisory locks. GET_LOCK is connection-scoped, so this must be
// called on the same *gorm.DB (transaction) that does the batch write.
func AcquireRegisterLock(tx *gorm.DB, registerId int) error {
	lockName := fmt.Sprintf("register:%d", registerId)
	return acquireNamedLock(tx, lockName)
}

func ReleaseRegisterLock(tx *gorm.DB, registerId int) {
	releaseNamedLock(tx, fmt.Sprintf("register:%d", registerId))
}

// AcquireOrderLock serializes refund creation per order. Different
// orders proceed independently; only same-order refunds contend.
func AcquireOrderLock(tx *gorm.DB, orderLocalId string) error {
	lockName := fmt.Sprintf("order:%s", orderLocalId)
	return acquireNamedLock(tx, lockName)
}

func ReleaseOrderLock(tx *gorm.DB, orderLocalId string) {
	releaseNamedLock(tx, fmt.Sprintf("order:%s", orderLocalId))
}

func acquireNamedLock(tx *gorm.DB, lockName string) error {
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire lock %s", lockName)
	}
	return nil
}

func releaseNamedLock(tx *gorm.DB, lockName string) {
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
