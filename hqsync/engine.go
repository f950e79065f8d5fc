package hqsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// Engine pushes locally recorded batches, transactions and refunds to HQ
// and applies the acknowledgments. Records are claimed PENDING -> SYNCING
// oldest-first, pushed one at a time, then marked SYNCED, re-queued or
// parked FAILED. A pass never throws past this boundary; per-record
// outcomes are collected into the Report.
type Engine struct {
	DB        *gorm.DB
	Remote    RemoteAPI
	Logger    *logrus.Logger
	Retry     RetryConfig
	BatchSize int
	StoreId   string
}

func NewEngine(db *gorm.DB, remote RemoteAPI, logger *logrus.Logger, storeId string) *Engine {
	return &Engine{
		DB:        db,
		Remote:    remote,
		Logger:    logger,
		Retry:     RetryConfigFromEnv(),
		BatchSize: 50,
		StoreId:   storeId,
	}
}

// Reconcile runs one pass over a single record kind. runId ties
// error-queue rows to the scheduler run that produced them.
func (e *Engine) Reconcile(ctx context.Context, kind models.RecordKind, runId uint) (Report, error) {
	switch kind {
	case models.RecordKindBatch:
		return e.reconcileBatches(ctx, runId)
	case models.RecordKindTransaction:
		return e.reconcileTransactions(ctx, runId)
	case models.RecordKindRefund:
		return e.reconcileRefunds(ctx, runId)
	default:
		return Report{Kind: kind}, fmt.Errorf("unknown record kind %q", kind)
	}
}

func (e *Engine) reconcileBatches(ctx context.Context, runId uint) (Report, error) {
	report := Report{Kind: models.RecordKindBatch}

	// Only closed batches are pushed; an open shift is still accumulating
	// totals and must not be snapshotted to HQ.
	closedOnly := func(db *gorm.DB) *gorm.DB {
		return db.Where("closed_at IS NOT NULL")
	}
	claimed, err := models.ClaimPendingForSync[models.Batch](ctx, e.DB, e.BatchSize, closedOnly)
	if err != nil {
		return report, &utils.LocalStoreError{Op: "reconcileBatches.claim", Err: err}
	}

	for _, batch := range claimed {
		if err := ctx.Err(); err != nil {
			break
		}
		if batch.IsAcknowledged() {
			if e.remarkAcknowledged("reconcileBatches", &models.Batch{}, batch.ID, batch.LocalId, *batch.ServerId) {
				report.Synced++
			}
			continue
		}

		serverId, err := e.Remote.CreateBatch(ctx, batchPayload(batch))
		if err != nil {
			e.handleFailure(ctx, runId, &report, &models.Batch{}, models.RecordKindBatch, batch.ID, batch.LocalId, batch.SyncAttempts, err, nil)
			continue
		}
		if err := models.MarkSynced(e.DB, &models.Batch{}, batch.ID, serverId, nil); err != nil {
			e.logStoreError("reconcileBatches", batch.LocalId, err)
			continue
		}
		report.Synced++
	}

	report.StillPending = e.countPending(ctx, &models.Batch{})
	return report, nil
}

func (e *Engine) reconcileTransactions(ctx context.Context, runId uint) (Report, error) {
	report := Report{Kind: models.RecordKindTransaction}

	claimed, err := models.ClaimPendingForSync[models.SalesTransaction](ctx, e.DB, e.BatchSize)
	if err != nil {
		return report, &utils.LocalStoreError{Op: "reconcileTransactions.claim", Err: err}
	}

	for _, txn := range claimed {
		if err := ctx.Err(); err != nil {
			break
		}
		if txn.IsAcknowledged() {
			if e.remarkAcknowledged("reconcileTransactions", &models.SalesTransaction{}, txn.ID, txn.LocalId, *txn.ServerId) {
				report.Synced++
			}
			continue
		}

		serverBatchId := txn.ServerBatchId
		if serverBatchId == nil {
			var batch models.Batch
			err := e.DB.WithContext(ctx).Where("local_id = ?", txn.BatchLocalId).Take(&batch).Error
			if err != nil || batch.ServerId == nil {
				// Owning batch not acknowledged yet. Not a failure: the
				// transaction goes back in the queue with no attempt
				// counted and will sync on a later pass.
				_ = models.DeferSync(e.DB, &models.SalesTransaction{}, txn.ID)
				continue
			}
			serverBatchId = batch.ServerId
		}

		serverId, err := e.Remote.CreateTransaction(ctx, transactionPayload(txn, *serverBatchId))
		if err != nil {
			e.handleFailure(ctx, runId, &report, &models.SalesTransaction{}, models.RecordKindTransaction, txn.ID, txn.LocalId, txn.SyncAttempts, err, nil)
			continue
		}
		extra := map[string]interface{}{"server_batch_id": *serverBatchId}
		if err := models.MarkSynced(e.DB, &models.SalesTransaction{}, txn.ID, serverId, extra); err != nil {
			e.logStoreError("reconcileTransactions", txn.LocalId, err)
			continue
		}
		report.Synced++
	}

	report.StillPending = e.countPending(ctx, &models.SalesTransaction{})
	return report, nil
}

func (e *Engine) reconcileRefunds(ctx context.Context, runId uint) (Report, error) {
	report := Report{Kind: models.RecordKindRefund}

	claimed, err := models.ClaimPendingForSync[models.Refund](ctx, e.DB, e.BatchSize)
	if err != nil {
		return report, &utils.LocalStoreError{Op: "reconcileRefunds.claim", Err: err}
	}

	for _, refund := range claimed {
		if err := ctx.Err(); err != nil {
			break
		}
		if refund.IsAcknowledged() {
			if e.remarkAcknowledged("reconcileRefunds", &models.Refund{}, refund.ID, refund.LocalId, *refund.ServerId) {
				report.Synced++
			}
			continue
		}

		full, err := models.GetRefundByLocalId(e.DB.WithContext(ctx), refund.LocalId)
		if err != nil {
			e.logStoreError("reconcileRefunds", refund.LocalId, err)
			_ = models.DeferSync(e.DB, &models.Refund{}, refund.ID)
			continue
		}

		result, err := e.Remote.CreateRefund(ctx, refundPayload(*full))
		if err != nil {
			// A terminal rejection additionally marks the refund itself
			// REJECTED; exhausting retries marks it SYNC_FAILED.
			e.handleFailure(ctx, runId, &report, &models.Refund{}, models.RecordKindRefund, refund.ID, refund.LocalId, refund.SyncAttempts, err, refundFailureStatus(err))
			continue
		}

		status := models.RefundStatusApproved
		if result.Status == remoteRefundPartiallyApproved {
			status = models.RefundStatusPartiallyApproved
		}
		extra := map[string]interface{}{"status": status}
		if err := models.MarkSynced(e.DB, &models.Refund{}, refund.ID, result.ID, extra); err != nil {
			e.logStoreError("reconcileRefunds", refund.LocalId, err)
			continue
		}
		report.Synced++
	}

	report.StillPending = e.countPending(ctx, &models.Refund{})
	return report, nil
}

// remarkAcknowledged re-marks a claimed record that already carries a
// server id. A crash after the HQ ack but before the local write leaves
// the id set on a non-SYNCED row; it must never be re-posted. A failed
// re-mark is logged so a record stuck SYNCING is visible before the next
// pass's reset.
func (e *Engine) remarkAcknowledged(funcName string, model interface{}, id int, localId string, serverId int64) bool {
	if err := models.MarkSynced(e.DB, model, id, serverId, nil); err != nil {
		e.logStoreError(funcName, localId, err)
		return false
	}
	return true
}

// handleFailure applies the retry policy to one failed submission:
// transient errors re-queue with backoff until the ceiling, terminal
// errors park immediately. Parked records land in the error queue.
func (e *Engine) handleFailure(ctx context.Context, runId uint, report *Report, model interface{}, kind models.RecordKind, id int, localId string, priorAttempts int, cause error, failedExtra map[string]interface{}) {
	attempts := priorAttempts + 1
	errMsg := cause.Error()
	retryable := utils.IsRetryableSyncError(cause)

	park := !retryable || e.Retry.Exhausted(attempts)
	if park {
		if err := models.MarkSyncFailed(e.DB, model, id, attempts, errMsg); err != nil {
			e.logStoreError("handleFailure", localId, err)
			return
		}
		if len(failedExtra) > 0 {
			if err := e.DB.Model(model).Where("id = ?", id).Updates(failedExtra).Error; err != nil {
				e.logStoreError("handleFailure.extra", localId, err)
			}
		}
		report.Failed++
		if err := models.CreateSyncRecordError(ctx, e.DB, runId, e.StoreId, kind, localId, errorCode(cause), errMsg, retryable); err != nil {
			e.logStoreError("handleFailure.errorQueue", localId, err)
		}
	} else {
		nextAt := time.Now().UTC().Add(e.Retry.Backoff(attempts))
		if err := models.MarkSyncRetry(e.DB, model, id, attempts, errMsg, nextAt); err != nil {
			e.logStoreError("handleFailure", localId, err)
			return
		}
	}

	if e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{
			"field":         "HqSync",
			"record_kind":   kind,
			"local_id":      localId,
			"sync_attempts": attempts,
			"retryable":     retryable,
			"parked":        park,
		}).Error("sync failed: " + errMsg)
	}
}

// refundFailureStatus returns the refund status column update applied
// when a refund submission is parked FAILED.
func refundFailureStatus(cause error) map[string]interface{} {
	if utils.IsRetryableSyncError(cause) {
		return map[string]interface{}{"status": models.RefundStatusSyncFailed}
	}
	return map[string]interface{}{"status": models.RefundStatusRejected}
}

func errorCode(cause error) string {
	var remote *utils.RemoteError
	if errors.As(cause, &remote) && remote.StatusCode > 0 {
		return fmt.Sprintf("HQ_%d", remote.StatusCode)
	}
	return "NETWORK"
}

func (e *Engine) countPending(ctx context.Context, model interface{}) int {
	var n int64
	if err := e.DB.WithContext(ctx).Model(model).
		Where("sync_status = ?", models.SyncStatusPending).
		Count(&n).Error; err != nil {
		return 0
	}
	return int(n)
}

func (e *Engine) logStoreError(funcName string, localId string, err error) {
	if e.Logger == nil {
		return
	}
	e.Logger.WithFields(logrus.Fields{
		"field":    "HqSync",
		"local_id": localId,
	}).Error(funcName + ": " + err.Error())
}

func batchPayload(b models.Batch) BatchPayload {
	p := BatchPayload{
		LocalId:            b.LocalId,
		BatchNo:            b.BatchNo,
		UserId:             b.UserId,
		StoreId:            b.StoreId,
		RegisterId:         b.RegisterId,
		LocationId:         b.LocationId,
		StartingCashAmount: b.StartingCashAmount,
		TotalCashAmount:    b.TotalCashAmount,
		TotalCardAmount:    b.TotalCardAmount,
		TotalTipAmount:     b.TotalTipAmount,
		TotalTaxAmount:     b.TotalTaxAmount,
		StartedAt:          b.StartedAt.UTC().Format(time.RFC3339),
	}
	if b.ClosingCashAmount.Valid {
		p.ClosingCashAmount = b.ClosingCashAmount.Decimal
	}
	if b.ClosedAt != nil {
		p.ClosedAt = b.ClosedAt.UTC().Format(time.RFC3339)
	}
	return p
}

func transactionPayload(t models.SalesTransaction, serverBatchId int64) TransactionPayload {
	return TransactionPayload{
		LocalId:       t.LocalId,
		OrderLocalId:  t.OrderLocalId,
		BatchId:       serverBatchId,
		Amount:        t.Amount,
		TipAmount:     t.TipAmount,
		TaxAmount:     t.TaxAmount,
		PaymentMethod: string(t.PaymentMethod),
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func refundPayload(r models.Refund) RefundPayload {
	p := RefundPayload{
		LocalId:      r.LocalId,
		OrderLocalId: r.OrderLocalId,
		RefundAmount: r.RefundAmount,
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, item := range r.Items {
		p.Items = append(p.Items, RefundItemPayload{
			ProductId: item.ProductId,
			VariantId: item.VariantId,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return p
}
