package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Batch is one cash-register shift bounded by open/close events.
// Batches are append-only history: they are closed, never deleted.
// Exactly one batch per register may have closed_at = NULL at a time.
// OpenRegisterId holds the register id while the batch is open and is
// cleared to NULL at close; its unique index makes the invariant hold at
// commit time even when two openers race past the advisory lock.
type Batch struct {
	ID int `gorm:"primary_key" json:"id"`
	Syncable
	BatchNo            string              `gorm:"size:64;not null;index" json:"batch_no"`
	UserId             int                 `gorm:"not null" json:"user_id"`
	StoreId            string              `gorm:"size:64;index;not null" json:"store_id"`
	RegisterId         int                 `gorm:"index;not null" json:"register_id"`
	OpenRegisterId     *int                `gorm:"uniqueIndex" json:"-"`
	LocationId         int                 `json:"location_id"`
	StartingCashAmount decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"starting_cash_amount"`
	ClosingCashAmount  decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"closing_cash_amount"`
	TotalCashAmount    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_cash_amount"`
	TotalCardAmount    decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_card_amount"`
	TotalTipAmount     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_tip_amount"`
	TotalTaxAmount     decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"total_tax_amount"`
	StartedAt          time.Time           `gorm:"not null" json:"started_at"`
	ClosedAt           *time.Time          `json:"closed_at"`
	CreatedAt          time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b Batch) GetID() int { return b.ID }

// IsOpen reports whether the shift is still running.
func (b Batch) IsOpen() bool { return b.ClosedAt == nil }

type NewBatch struct {
	UserId             int             `json:"user_id"`
	StoreId            string          `json:"store_id"`
	RegisterId         int             `json:"register_id" binding:"required"`
	LocationId         int             `json:"location_id"`
	StartingCashAmount decimal.Decimal `json:"starting_cash_amount"`
}

// BatchCloseTotals carries the aggregated breakdowns persisted at close.
type BatchCloseTotals struct {
	TotalCashAmount decimal.Decimal `json:"total_cash_amount"`
	TotalCardAmount decimal.Decimal `json:"total_card_amount"`
	TotalTipAmount  decimal.Decimal `json:"total_tip_amount"`
	TotalTaxAmount  decimal.Decimal `json:"total_tax_amount"`
}

// InsertBatch writes a new open batch inside tx. Status starts PENDING;
// the reconciliation engine picks it up later.
func InsertBatch(tx *gorm.DB, input *NewBatch) (*Batch, error) {
	now := time.Now()
	batch := &Batch{
		Syncable: Syncable{
			LocalId:    uuid.NewString(),
			SyncStatus: SyncStatusPending,
		},
		BatchNo:            utils.GenerateBatchNo(input.RegisterId, now),
		UserId:             input.UserId,
		StoreId:            input.StoreId,
		RegisterId:         input.RegisterId,
		OpenRegisterId:     &input.RegisterId,
		LocationId:         input.LocationId,
		StartingCashAmount: input.StartingCashAmount,
		StartedAt:          now,
	}
	if err := tx.Create(batch).Error; err != nil {
		return nil, &utils.LocalStoreError{Op: "InsertBatch", Err: err}
	}
	return batch, nil
}

// FindOpenBatch returns the open batch for a register, or
// ErrorRecordNotFound when the register has none.
func FindOpenBatch(tx *gorm.DB, registerId int) (*Batch, error) {
	var batch Batch
	err := tx.
		Where("open_register_id = ?", registerId).
		Take(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "FindOpenBatch", Err: err}
	}
	return &batch, nil
}

// GetBatchByLocalId loads a batch by its local UUID.
func GetBatchByLocalId(ctx context.Context, localId string) (*Batch, error) {
	var batch Batch
	err := config.GetDB().WithContext(ctx).
		Where("local_id = ?", localId).
		Take(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "GetBatchByLocalId", Err: err}
	}
	return &batch, nil
}
