package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"bitbucket.org/mmdatafocus/pos_backend/workflow"
)

func openBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewBatch
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		batch, err := workflow.OpenBatch(c.Request.Context(), &req)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, batch)
	}
}

type closeBatchRequest struct {
	ClosingCashAmount decimal.Decimal         `json:"closing_cash_amount"`
	Totals            models.BatchCloseTotals `json:"totals"`
}

func closeBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req closeBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		batch, err := workflow.CloseBatch(c.Request.Context(), c.Param("localId"), req.ClosingCashAmount, req.Totals)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

func getOpenBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		registerId, ok := utils.GetRegisterIdFromContext(c.Request.Context())
		if !ok {
			if v, err := strconv.Atoi(c.Query("registerId")); err == nil {
				registerId = v
			} else {
				c.JSON(http.StatusBadRequest, gin.H{"error": "register id is required"})
				return
			}
		}
		batch, err := workflow.GetOpenBatch(c.Request.Context(), registerId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if batch == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no open batch for this register"})
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

func recordSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workflow.NewSale
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		order, txn, err := workflow.RecordSale(c.Request.Context(), &req)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": order, "transaction": txn})
	}
}

func createRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewRefund
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		refund, err := workflow.CreateRefund(c.Request.Context(), &req)
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, refund)
	}
}

func recordStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := models.RecordKind(c.Param("kind"))
		localId := c.Param("localId")
		db := dbForRequest(c)

		var syncable models.Syncable
		var err error
		switch kind {
		case models.RecordKindBatch:
			var rec *models.Batch
			rec, err = models.GetBatchByLocalId(c.Request.Context(), localId)
			if rec != nil {
				syncable = rec.Syncable
			}
		case models.RecordKindTransaction:
			var rec *models.SalesTransaction
			rec, err = models.GetTransactionByLocalId(db, localId)
			if rec != nil {
				syncable = rec.Syncable
			}
		case models.RecordKindRefund:
			var rec *models.Refund
			rec, err = models.GetRefundByLocalId(db, localId)
			if rec != nil {
				syncable = rec.Syncable
			}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record kind"})
			return
		}
		if err != nil {
			writeWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"localId":       syncable.LocalId,
			"serverId":      syncable.ServerId,
			"syncStatus":    syncable.SyncStatus,
			"syncAttempts":  syncable.SyncAttempts,
			"lastSyncError": syncable.LastSyncError,
			"nextSyncAt":    syncable.NextSyncAt,
		})
	}
}

// writeWorkflowError maps business-rule errors to their HTTP statuses.
// Anything unrecognized is a 500 with the message preserved.
func writeWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrBatchAlreadyOpen),
		errors.Is(err, utils.ErrBatchAlreadyClosed),
		errors.Is(err, utils.ErrNoOpenBatch):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrOverRefund):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
