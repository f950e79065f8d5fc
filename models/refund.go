package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Refund is a locally validated refund against an order. It is created
// PENDING and never deleted; a failed sync stays queued for retry, a
// terminal HQ rejection parks it REJECTED without reversing the
// already-applied inventory restoration.
type Refund struct {
	ID int `gorm:"primary_key" json:"id"`
	Syncable
	OrderLocalId      string          `gorm:"size:36;index;not null" json:"order_local_id"`
	RefundAmount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refund_amount"`
	Status            RefundStatus    `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	InventoryRestored bool            `gorm:"default:false" json:"inventory_restored"`
	Reason            string          `gorm:"size:255" json:"reason"`
	Items             []RefundedItem  `gorm:"foreignKey:RefundId" json:"items"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Refund) GetID() int { return r.ID }

type RefundedItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	RefundId  int             `gorm:"index;not null" json:"refund_id"`
	ProductId int             `gorm:"not null" json:"product_id"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Amount returns quantity * unit price for one refunded line.
func (i RefundedItem) Amount() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

type NewRefundItem struct {
	ProductId int             `json:"product_id" binding:"required"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type NewRefund struct {
	OrderLocalId     string          `json:"order_local_id" binding:"required"`
	Items            []NewRefundItem `json:"items" binding:"required"`
	Reason           string          `json:"reason"`
	RestoreInventory bool            `json:"restore_inventory"`
}

// TotalAmount sums the requested refund lines.
func (input NewRefund) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(item.Quantity.Mul(item.UnitPrice))
	}
	return total
}

// InsertRefund writes the refund and its lines inside tx. The over-refund
// check happens in the workflow, under the per-order lock, before this.
func InsertRefund(tx *gorm.DB, input *NewRefund, amount decimal.Decimal) (*Refund, error) {
	refund := &Refund{
		Syncable: Syncable{
			LocalId:    uuid.NewString(),
			SyncStatus: SyncStatusPending,
		},
		OrderLocalId:      input.OrderLocalId,
		RefundAmount:      amount,
		Status:            RefundStatusPending,
		InventoryRestored: input.RestoreInventory,
		Reason:            input.Reason,
	}
	for _, item := range input.Items {
		refund.Items = append(refund.Items, RefundedItem{
			ProductId: item.ProductId,
			VariantId: item.VariantId,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if err := tx.Create(refund).Error; err != nil {
		return nil, &utils.LocalStoreError{Op: "InsertRefund", Err: err}
	}
	return refund, nil
}

// GetRefundByLocalId loads a refund with its lines.
func GetRefundByLocalId(tx *gorm.DB, localId string) (*Refund, error) {
	var refund Refund
	err := tx.Preload("Items").Where("local_id = ?", localId).Take(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "GetRefundByLocalId", Err: err}
	}
	return &refund, nil
}
