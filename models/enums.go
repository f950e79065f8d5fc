package models

// SyncStatus is the per-record sync lifecycle shared by batches,
// sales transactions and refunds. Keep these as strings (DB values).
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusSyncing SyncStatus = "SYNCING"
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// syncTransitions lists the legal moves. SYNCING never survives a process
// restart: recovery resets it to PENDING before the next pass.
var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncStatusPending: {SyncStatusSyncing},
	SyncStatusSyncing: {SyncStatusSynced, SyncStatusFailed, SyncStatusPending},
	SyncStatusFailed:  {SyncStatusPending},
	SyncStatusSynced:  {},
}

// CanTransition reports whether moving a record from one sync status to
// another is legal. SYNCED is terminal.
func (s SyncStatus) CanTransition(to SyncStatus) bool {
	for _, next := range syncTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RecordKind tags the three syncable record classes. Reconciliation is
// ordered BATCH -> TRANSACTION -> REFUND so server-side foreign keys are
// always resolvable.
type RecordKind string

const (
	RecordKindBatch       RecordKind = "BATCH"
	RecordKindTransaction RecordKind = "TRANSACTION"
	RecordKindRefund      RecordKind = "REFUND"
)

// OrderedRecordKinds returns the kinds in required reconciliation order.
func OrderedRecordKinds() []RecordKind {
	return []RecordKind{RecordKindBatch, RecordKindTransaction, RecordKindRefund}
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodMobile PaymentMethod = "MOBILE"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusVoid      TransactionStatus = "VOID"
)

type RefundStatus string

const (
	RefundStatusPending           RefundStatus = "PENDING"
	RefundStatusPartiallyApproved RefundStatus = "PARTIALLY_APPROVED"
	RefundStatusApproved          RefundStatus = "APPROVED"
	RefundStatusRejected          RefundStatus = "REJECTED"
	RefundStatusSyncFailed        RefundStatus = "SYNC_FAILED"
)

// OrderRefundStatus is derived from the order's remaining refundable
// balance; mutated exclusively by the refund workflow.
type OrderRefundStatus string

const (
	OrderRefundStatusNone    OrderRefundStatus = "NONE"
	OrderRefundStatusPartial OrderRefundStatus = "PARTIAL"
	OrderRefundStatusFull    OrderRefundStatus = "FULL"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredSystem = "system"
	SyncTriggeredRetry  = "retry"
)
