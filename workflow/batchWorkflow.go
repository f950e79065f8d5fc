package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const openBatchCacheTTL = 15 * time.Minute

func openBatchCacheKey(registerId int) string {
	return fmt.Sprintf("open_batch:%d", registerId)
}

// mapOpenBatchError converts the duplicate-key error raised by the
// open_register_id unique index into ErrBatchAlreadyOpen.
func mapOpenBatchError(err error) error {
	if utils.IsDuplicateKeyError(err) {
		return utils.ErrBatchAlreadyOpen
	}
	return err
}

// OpenBatch starts a cash-drawer shift on a register. Fails with
// ErrBatchAlreadyOpen when the register already has an open batch. The
// invariant is enforced at commit time by the unique index on
// open_register_id; the per-register advisory lock only serializes
// openers so the loser usually sees the existing batch instead of a
// duplicate-key rejection. Different registers proceed independently.
func OpenBatch(ctx context.Context, input *models.NewBatch) (*models.Batch, error) {
	if input.RegisterId <= 0 {
		return nil, errors.New("register id is required")
	}
	if input.StartingCashAmount.LessThan(decimal.Zero) {
		return nil, errors.New("starting cash amount cannot be negative")
	}
	if input.UserId == 0 {
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			input.UserId = userId
		}
	}
	if input.StoreId == "" {
		if storeId, ok := utils.GetStoreIdFromContext(ctx); ok {
			input.StoreId = storeId
		}
	}

	release, err := utils.ObtainResourceLock(ctx, "register", strconv.Itoa(input.RegisterId), "batchWorkflow", "OpenBatch")
	if err != nil {
		return nil, err
	}
	defer release()

	var batch *models.Batch
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireRegisterLock(tx, input.RegisterId); err != nil {
			return err
		}
		defer ReleaseRegisterLock(tx, input.RegisterId)

		existing, err := models.FindOpenBatch(tx, input.RegisterId)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		if existing != nil {
			return utils.ErrBatchAlreadyOpen
		}

		batch, err = models.InsertBatch(tx, input)
		return err
	})
	if err != nil {
		return nil, mapOpenBatchError(err)
	}

	_ = config.SetRedisObject(openBatchCacheKey(input.RegisterId), batch, openBatchCacheTTL)
	return batch, nil
}

// CloseBatch ends a shift: sets closed_at and the declared closing cash,
// persists the aggregated totals, and leaves the batch PENDING for the
// reconciliation engine (batches only become sync-eligible once closed).
// Double-close is rejected with ErrBatchAlreadyClosed, not silently
// accepted.
func CloseBatch(ctx context.Context, batchLocalId string, closingCash decimal.Decimal, totals models.BatchCloseTotals) (*models.Batch, error) {
	var closed *models.Batch
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.Batch
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("local_id = ?", batchLocalId).
			Take(&batch).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return &utils.LocalStoreError{Op: "CloseBatch", Err: err}
		}
		if batch.ClosedAt != nil {
			return utils.ErrBatchAlreadyClosed
		}

		if err := AcquireRegisterLock(tx, batch.RegisterId); err != nil {
			return err
		}
		defer ReleaseRegisterLock(tx, batch.RegisterId)

		now := time.Now()
		updates := map[string]interface{}{
			"closed_at":           &now,
			"open_register_id":    nil,
			"closing_cash_amount": closingCash,
			"total_cash_amount":   totals.TotalCashAmount,
			"total_card_amount":   totals.TotalCardAmount,
			"total_tip_amount":    totals.TotalTipAmount,
			"total_tax_amount":    totals.TotalTaxAmount,
		}
		if err := tx.Model(&models.Batch{}).Where("id = ?", batch.ID).Updates(updates).Error; err != nil {
			return &utils.LocalStoreError{Op: "CloseBatch", Err: err}
		}

		batch.ClosedAt = &now
		batch.OpenRegisterId = nil
		batch.ClosingCashAmount = decimal.NewNullDecimal(closingCash)
		batch.TotalCashAmount = totals.TotalCashAmount
		batch.TotalCardAmount = totals.TotalCardAmount
		batch.TotalTipAmount = totals.TotalTipAmount
		batch.TotalTaxAmount = totals.TotalTaxAmount
		closed = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(openBatchCacheKey(closed.RegisterId)); err != nil {
		config.LogError(config.GetLogger(), "batchWorkflow", "CloseBatch",
			"failed to invalidate open batch cache", openBatchCacheKey(closed.RegisterId), err)
		// Overwrite with the closed batch so cache hits see closed_at set
		// and fall through to the store.
		_ = config.SetRedisObject(openBatchCacheKey(closed.RegisterId), closed, openBatchCacheTTL)
	}
	return closed, nil
}

// GetOpenBatch returns the register's open batch, or nil when the
// register has none. Used to gate new sales. The Redis read is a
// best-effort cache in front of the local store.
func GetOpenBatch(ctx context.Context, registerId int) (*models.Batch, error) {
	var cached models.Batch
	if found, err := config.GetRedisObject(openBatchCacheKey(registerId), &cached); err == nil && found && cached.IsOpen() {
		return &cached, nil
	}

	batch, err := models.FindOpenBatch(config.GetDB().WithContext(ctx), registerId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	_ = config.SetRedisObject(openBatchCacheKey(registerId), batch, openBatchCacheTTL)
	return batch, nil
}
