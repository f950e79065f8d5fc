package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateRefund validates a refund against the order's remaining
// refundable balance and applies it atomically: refund rows, optional
// inventory restoration and the order's refunded totals commit in ONE
// local transaction. Synchronization to HQ happens later through the
// reconciliation engine.
//
// The whole section runs under a per-order exclusive lock, so two
// concurrent refunds whose amounts individually fit but jointly exceed
// the remaining balance resolve to exactly one success and one
// ErrOverRefund.
func CreateRefund(ctx context.Context, input *models.NewRefund) (*models.Refund, error) {
	if input.OrderLocalId == "" {
		return nil, errors.New("order local id is required")
	}
	if len(input.Items) == 0 {
		return nil, errors.New("refund has no items")
	}
	amount := input.TotalAmount()
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("refund amount must be positive")
	}

	release, err := utils.ObtainResourceLock(ctx, "order", input.OrderLocalId, "refundWorkflow", "CreateRefund")
	if err != nil {
		return nil, err
	}
	defer release()

	var refund *models.Refund
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireOrderLock(tx, input.OrderLocalId); err != nil {
			return err
		}
		defer ReleaseOrderLock(tx, input.OrderLocalId)

		order, err := models.GetOrderForUpdate(tx, input.OrderLocalId)
		if err != nil {
			return err
		}

		if utils.ExceedsWithEpsilon(amount, order.RemainingRefundable()) {
			return utils.ErrOverRefund
		}

		refund, err = models.InsertRefund(tx, input, amount)
		if err != nil {
			return err
		}

		if input.RestoreInventory {
			for _, item := range input.Items {
				if err := models.RestoreStock(tx, item.ProductId, item.VariantId, item.Quantity); err != nil {
					return err
				}
			}
		}

		return models.ApplyRefundToOrder(tx, order, amount)
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}
