package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type NewSaleItem struct {
	ProductId int             `json:"product_id" binding:"required"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type NewSale struct {
	RegisterId    int                  `json:"register_id" binding:"required"`
	Items         []NewSaleItem        `json:"items" binding:"required"`
	PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	TipAmount     decimal.Decimal      `json:"tip_amount"`
	TaxAmount     decimal.Decimal      `json:"tax_amount"`
}

// RecordSale writes the order and its payment transaction locally, both
// gated on an open batch for the register. Everything stays PENDING for
// the reconciliation engine; the sale completes whether or not HQ is
// reachable.
func RecordSale(ctx context.Context, input *NewSale) (*models.Order, *models.SalesTransaction, error) {
	if len(input.Items) == 0 {
		return nil, nil, errors.New("sale has no items")
	}

	batch, err := GetOpenBatch(ctx, input.RegisterId)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, utils.ErrNoOpenBatch
	}

	storeId, _ := utils.GetStoreIdFromContext(ctx)
	if storeId == "" {
		storeId = batch.StoreId
	}

	total := decimal.Zero
	for _, item := range input.Items {
		total = total.Add(item.Quantity.Mul(item.UnitPrice))
	}

	var order *models.Order
	var txn *models.SalesTransaction
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		order = &models.Order{
			LocalId:     uuid.NewString(),
			OrderNo:     fmt.Sprintf("O%s", now.Format("20060102-150405.000")),
			StoreId:     storeId,
			RegisterId:  input.RegisterId,
			TotalAmount: total,
		}
		for _, item := range input.Items {
			order.Items = append(order.Items, models.OrderItem{
				ProductId: item.ProductId,
				VariantId: item.VariantId,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
		if err := tx.Create(order).Error; err != nil {
			return &utils.LocalStoreError{Op: "RecordSale", Err: err}
		}

		for _, item := range input.Items {
			if err := models.AdjustStock(tx, item.ProductId, item.VariantId, item.Quantity.Neg()); err != nil {
				return err
			}
		}

		var err error
		txn, err = models.InsertSalesTransaction(tx, &models.NewSalesTransaction{
			OrderLocalId:  order.LocalId,
			BatchLocalId:  batch.LocalId,
			Amount:        total,
			TipAmount:     input.TipAmount,
			TaxAmount:     input.TaxAmount,
			PaymentMethod: input.PaymentMethod,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return order, txn, nil
}
