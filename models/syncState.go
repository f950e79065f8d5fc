package models

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimPendingForSync atomically selects due PENDING records of one kind
// and flips them to SYNCING inside a single transaction, so a concurrent
// pass cannot double-claim. Records are claimed oldest-first to preserve
// the causal ordering of financial events. Rows locked by another
// transaction are skipped rather than waited on.
// Kind-specific eligibility (e.g. batches only sync once closed) is
// expressed through extra scopes.
func ClaimPendingForSync[T SyncableRecord](ctx context.Context, db *gorm.DB, limit int, scopes ...func(*gorm.DB) *gorm.DB) ([]T, error) {
	now := time.Now().UTC()
	var claimed []T
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("sync_status = ?", SyncStatusPending).
			Where("(next_sync_at IS NULL OR next_sync_at <= ?)", now).
			Scopes(scopes...).
			Order("created_at ASC, id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int, 0, len(claimed))
		for _, rec := range claimed {
			ids = append(ids, rec.GetID())
		}
		var zero T
		return tx.Model(&zero).
			Where("id IN ?", ids).
			Update("sync_status", SyncStatusSyncing).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ResetStuckSyncing reverts any record left SYNCING by a crash or a
// cancelled pass back to PENDING. Called on startup and before each
// scheduled pass; SYNCING must never survive across process restarts.
func ResetStuckSyncing(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	for _, model := range []interface{}{&Batch{}, &SalesTransaction{}, &Refund{}} {
		res := db.WithContext(ctx).Model(model).
			Where("sync_status = ?", SyncStatusSyncing).
			Update("sync_status", SyncStatusPending)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// transitionUpdate applies updates to one record, guarded by the sync
// state machine. The from-status guard rides in the WHERE clause so a
// concurrent writer cannot race the check; an illegal move is refused
// before touching the store.
func transitionUpdate(db *gorm.DB, model interface{}, id int, from, to SyncStatus, updates map[string]interface{}) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal sync transition %s -> %s", from, to)
	}
	updates["sync_status"] = to
	return db.Model(model).
		Where("id = ? AND sync_status = ?", id, from).
		Updates(updates).Error
}

// MarkSynced records the HQ acknowledgment: server id + SYNCED status in
// one update, optionally alongside kind-specific columns (extra). Guarded
// on SYNCING so a duplicate claim slipping through a crash window cannot
// regress an acknowledged row.
func MarkSynced(tx *gorm.DB, model interface{}, id int, serverId int64, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"server_id":       serverId,
		"sync_attempts":   0,
		"last_sync_error": nil,
		"next_sync_at":    nil,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return transitionUpdate(tx, model, id, SyncStatusSyncing, SyncStatusSynced, updates)
}

// MarkSyncRetry re-queues a record after a transient failure: back to
// PENDING with the attempt counter bumped and the next eligible time set.
func MarkSyncRetry(db *gorm.DB, model interface{}, id int, attempts int, errMsg string, nextAt time.Time) error {
	return transitionUpdate(db, model, id, SyncStatusSyncing, SyncStatusPending, map[string]interface{}{
		"sync_attempts":   attempts,
		"last_sync_error": &errMsg,
		"next_sync_at":    &nextAt,
	})
}

// MarkSyncFailed parks a record in FAILED: terminal rejections and
// records past the retry ceiling land here and are surfaced through the
// error queue instead of being silently retried forever.
func MarkSyncFailed(db *gorm.DB, model interface{}, id int, attempts int, errMsg string) error {
	return transitionUpdate(db, model, id, SyncStatusSyncing, SyncStatusFailed, map[string]interface{}{
		"sync_attempts":   attempts,
		"last_sync_error": &errMsg,
		"next_sync_at":    nil,
	})
}

// DeferSync releases a claimed record back to PENDING without counting
// an attempt. Used when a dependency is not ready yet, e.g. a
// transaction whose batch has no server id.
func DeferSync(db *gorm.DB, model interface{}, id int) error {
	return transitionUpdate(db, model, id, SyncStatusSyncing, SyncStatusPending, map[string]interface{}{})
}

// RequeueFailed puts a FAILED record back in the queue (operator action).
func RequeueFailed(db *gorm.DB, model interface{}, localId string) (int64, error) {
	res := db.Model(model).
		Where("local_id = ? AND sync_status = ?", localId, SyncStatusFailed).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusPending,
			"sync_attempts":   0,
			"last_sync_error": nil,
			"next_sync_at":    nil,
		})
	return res.RowsAffected, res.Error
}
