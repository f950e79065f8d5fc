package hqsync

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/pos_backend/models"
)

// Wire payloads for the HQ create/sync endpoints. Every payload carries
// the locally generated identifier as the idempotency token, so a
// retried or duplicate submission is recognized server-side instead of
// creating a second record.

type BatchPayload struct {
	LocalId            string          `json:"local_id"`
	BatchNo            string          `json:"batch_no"`
	UserId             int             `json:"user_id"`
	StoreId            string          `json:"store_id"`
	RegisterId         int             `json:"register_id"`
	LocationId         int             `json:"location_id"`
	StartingCashAmount decimal.Decimal `json:"starting_cash_amount"`
	ClosingCashAmount  decimal.Decimal `json:"closing_cash_amount"`
	TotalCashAmount    decimal.Decimal `json:"total_cash_amount"`
	TotalCardAmount    decimal.Decimal `json:"total_card_amount"`
	TotalTipAmount     decimal.Decimal `json:"total_tip_amount"`
	TotalTaxAmount     decimal.Decimal `json:"total_tax_amount"`
	StartedAt          string          `json:"started_at"`
	ClosedAt           string          `json:"closed_at"`
}

type TransactionPayload struct {
	LocalId       string          `json:"local_id"`
	OrderLocalId  string          `json:"order_local_id"`
	BatchId       int64           `json:"batch_id"`
	Amount        decimal.Decimal `json:"amount"`
	TipAmount     decimal.Decimal `json:"tip_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
}

type RefundItemPayload struct {
	ProductId int             `json:"product_id"`
	VariantId int             `json:"variant_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type RefundPayload struct {
	LocalId      string              `json:"local_id"`
	OrderLocalId string              `json:"order_local_id"`
	RefundAmount decimal.Decimal     `json:"refund_amount"`
	Reason       string              `json:"reason"`
	Items        []RefundItemPayload `json:"items"`
	CreatedAt    string              `json:"created_at"`
}

type createResponse struct {
	ID int64 `json:"id"`
}

// RefundResult is HQ's answer to a refund submission: the assigned id
// plus the approval outcome ("approved" or "partially_approved").
type RefundResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

const (
	remoteRefundApproved          = "approved"
	remoteRefundPartiallyApproved = "partially_approved"
)

// Report summarizes one reconciliation pass over a record kind.
// Whole-pass failures are reported, not thrown past the boundary.
type Report struct {
	Kind         models.RecordKind `json:"kind"`
	Synced       int               `json:"synced"`
	Failed       int               `json:"failed"`
	StillPending int               `json:"still_pending"`
}

// View types returned by the sync HTTP endpoints.

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggeredBy"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	RecordKind string `json:"recordKind"`
	LocalId    string `json:"localId"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}
