package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesTransaction is one payment event recorded at sale completion.
// It references its order and owning batch by local id; the HQ-assigned
// batch id is patched in by the reconciliation engine once the batch has
// been acknowledged, so HQ never sees a dangling foreign key.
type SalesTransaction struct {
	ID int `gorm:"primary_key" json:"id"`
	Syncable
	OrderLocalId  string            `gorm:"size:36;index;not null" json:"order_local_id"`
	BatchLocalId  string            `gorm:"size:36;index;not null" json:"batch_local_id"`
	ServerBatchId *int64            `json:"server_batch_id"`
	Amount        decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"amount"`
	TipAmount     decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"tip_amount"`
	TaxAmount     decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	PaymentMethod PaymentMethod     `gorm:"size:20;not null" json:"payment_method"`
	Status        TransactionStatus `gorm:"size:20;not null;default:'COMPLETED'" json:"status"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t SalesTransaction) GetID() int { return t.ID }

type NewSalesTransaction struct {
	OrderLocalId  string          `json:"order_local_id"`
	BatchLocalId  string          `json:"batch_local_id"`
	Amount        decimal.Decimal `json:"amount"`
	TipAmount     decimal.Decimal `json:"tip_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

// InsertSalesTransaction writes a PENDING transaction inside tx. The
// owning order must already exist in the same transaction scope.
func InsertSalesTransaction(tx *gorm.DB, input *NewSalesTransaction) (*SalesTransaction, error) {
	var orderCount int64
	if err := tx.Model(&Order{}).Where("local_id = ?", input.OrderLocalId).Count(&orderCount).Error; err != nil {
		return nil, &utils.LocalStoreError{Op: "InsertSalesTransaction", Err: err}
	}
	if orderCount == 0 {
		return nil, utils.ErrorRecordNotFound
	}

	txn := &SalesTransaction{
		Syncable: Syncable{
			LocalId:    uuid.NewString(),
			SyncStatus: SyncStatusPending,
		},
		OrderLocalId:  input.OrderLocalId,
		BatchLocalId:  input.BatchLocalId,
		Amount:        input.Amount,
		TipAmount:     input.TipAmount,
		TaxAmount:     input.TaxAmount,
		PaymentMethod: input.PaymentMethod,
		Status:        TransactionStatusCompleted,
	}
	if err := tx.Create(txn).Error; err != nil {
		return nil, &utils.LocalStoreError{Op: "InsertSalesTransaction", Err: err}
	}
	return txn, nil
}

// GetTransactionByLocalId loads a transaction by its local UUID.
func GetTransactionByLocalId(tx *gorm.DB, localId string) (*SalesTransaction, error) {
	var txn SalesTransaction
	err := tx.Where("local_id = ?", localId).Take(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "GetTransactionByLocalId", Err: err}
	}
	return &txn, nil
}
