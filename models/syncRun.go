package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"gorm.io/gorm"
)

// SyncRun is one execution of the reconciliation scheduler: a sequential
// pass over batches, transactions and refunds. History rows back the
// operator-facing sync screens.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	StoreId       string     `gorm:"index;not null" json:"store_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRecordError is the user-visible error queue: one row per record
// that failed to reconcile, with the retryable classification. Records
// past the retry ceiling or terminally rejected land here.
type SyncRecordError struct {
	ID         uint       `gorm:"primary_key" json:"id"`
	SyncRunId  uint       `gorm:"index;not null" json:"sync_run_id"`
	StoreId    string     `gorm:"index;not null" json:"store_id"`
	RecordKind RecordKind `gorm:"size:20;not null" json:"record_kind"`
	LocalId    string     `gorm:"size:36;index" json:"local_id"`
	ErrorCode  string     `gorm:"size:64" json:"error_code"`
	Message    string     `gorm:"type:text" json:"message"`
	Retryable  bool       `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// CreateSyncRecordError appends to the error queue. Best effort: a
// logging failure must not abort the pass, so callers ignore the error
// after logging it.
func CreateSyncRecordError(ctx context.Context, db *gorm.DB, runId uint, storeId string, kind RecordKind, localId string, code string, message string, retryable bool) error {
	rec := SyncRecordError{
		SyncRunId:  runId,
		StoreId:    storeId,
		RecordKind: kind,
		LocalId:    localId,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	}
	return db.WithContext(ctx).Create(&rec).Error
}

// ListSyncRuns returns recent runs, newest first.
func ListSyncRuns(ctx context.Context, storeId string, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := config.GetDB().WithContext(ctx).
		Where("store_id = ?", storeId).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// GetSyncRunWithErrors loads one run and its error-queue rows.
func GetSyncRunWithErrors(ctx context.Context, storeId string, runId uint) (*SyncRun, []SyncRecordError, error) {
	db := config.GetDB().WithContext(ctx)
	var run SyncRun
	if err := db.Where("id = ? AND store_id = ?", runId, storeId).Take(&run).Error; err != nil {
		return nil, nil, err
	}
	var errs []SyncRecordError
	if err := db.Where("sync_run_id = ?", runId).Order("id ASC").Find(&errs).Error; err != nil {
		return nil, nil, err
	}
	return &run, errs, nil
}
