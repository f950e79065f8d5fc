package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stock tracks on-hand quantity per (product, variant) at this store.
type Stock struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ProductId int             `gorm:"uniqueIndex:idx_stock_product_variant,priority:1;not null" json:"product_id"`
	VariantId int             `gorm:"uniqueIndex:idx_stock_product_variant,priority:2" json:"variant_id"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AdjustStock moves on-hand stock by delta (negative for a sale,
// positive for a restoration), creating the row if it does not exist.
func AdjustStock(tx *gorm.DB, productId int, variantId int, delta decimal.Decimal) error {
	res := tx.Model(&Stock{}).
		Where("product_id = ? AND variant_id = ?", productId, variantId).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return &utils.LocalStoreError{Op: "AdjustStock", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		row := &Stock{ProductId: productId, VariantId: variantId, Quantity: delta}
		if err := tx.Create(row).Error; err != nil {
			if utils.IsDuplicateKeyError(err) {
				// Lost the race against a concurrent first adjustment;
				// the row exists now, apply the delta to it.
				retry := tx.Model(&Stock{}).
					Where("product_id = ? AND variant_id = ?", productId, variantId).
					Update("quantity", gorm.Expr("quantity + ?", delta))
				if retry.Error != nil {
					return &utils.LocalStoreError{Op: "AdjustStock", Err: retry.Error}
				}
				return nil
			}
			return &utils.LocalStoreError{Op: "AdjustStock", Err: err}
		}
	}
	return nil
}

// RestoreStock increments on-hand stock for one refunded line. Must be
// called inside the same transaction as the refund insert, so a crash
// between the two cannot be observed.
func RestoreStock(tx *gorm.DB, productId int, variantId int, quantity decimal.Decimal) error {
	return AdjustStock(tx, productId, variantId, quantity)
}

// GetStock reads the on-hand row for a (product, variant) pair.
func GetStock(tx *gorm.DB, productId int, variantId int) (*Stock, error) {
	var stock Stock
	err := tx.Where("product_id = ? AND variant_id = ?", productId, variantId).Take(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, &utils.LocalStoreError{Op: "GetStock", Err: err}
	}
	return &stock, nil
}
