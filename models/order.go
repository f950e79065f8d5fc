package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is the local sale document that transactions and refunds hang
// off. Its refund columns are mutated exclusively by the refund workflow
// under the per-order lock.
type Order struct {
	ID                  int               `gorm:"primary_key" json:"id"`
	LocalId             string            `gorm:"size:36;uniqueIndex;not null" json:"local_id"`
	OrderNo             string            `gorm:"size:64;index" json:"order_no"`
	StoreId             string            `gorm:"size:64;index;not null" json:"store_id"`
	RegisterId          int               `gorm:"index" json:"register_id"`
	TotalAmount         decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TotalRefundedAmount decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_refunded_amount"`
	RefundStatus        OrderRefundStatus `gorm:"size:20;not null;default:'NONE'" json:"refund_status"`
	Items               []OrderItem       `gorm:"foreignKey:OrderId" json:"items"`
	CreatedAt           time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	OrderId   int             `gorm:"index;not null" json:"order_id"`
	ProductId int             `gorm:"not null" json:"product_id"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// RemainingRefundable is the balance still eligible for refund.
func (o Order) RemainingRefundable() decimal.Decimal {
	return o.TotalAmount.Sub(o.TotalRefundedAmount)
}

// DeriveRefundStatus computes the order refund status from an updated
// refunded total. The epsilon absorbs rounding at the FULL boundary.
func DeriveRefundStatus(totalAmount, totalRefunded decimal.Decimal) OrderRefundStatus {
	if totalRefunded.LessThanOrEqual(decimal.Zero) {
		return OrderRefundStatusNone
	}
	if totalAmount.Sub(totalRefunded).LessThanOrEqual(utils.RefundEpsilon) {
		return OrderRefundStatusFull
	}
	return OrderRefundStatusPartial
}

// GetOrderForUpdate loads an order by local id with a row lock, so the
// remaining-balance check and the refund write see a stable balance.
func GetOrderForUpdate(tx *gorm.DB, orderLocalId string) (*Order, error) {
	var order Order
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("local_id = ?", orderLocalId).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "GetOrderForUpdate", Err: err}
	}
	return &order, nil
}

// ApplyRefundToOrder bumps the refunded total and re-derives the refund
// status in one update. Must run inside the same transaction as the
// refund insert.
func ApplyRefundToOrder(tx *gorm.DB, order *Order, amount decimal.Decimal) error {
	newTotal := order.TotalRefundedAmount.Add(amount)
	newStatus := DeriveRefundStatus(order.TotalAmount, newTotal)
	err := tx.Model(&Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"total_refunded_amount": newTotal,
			"refund_status":         newStatus,
		}).Error
	if err != nil {
		return &utils.LocalStoreError{Op: "ApplyRefundToOrder", Err: err}
	}
	order.TotalRefundedAmount = newTotal
	order.RefundStatus = newStatus
	return nil
}
