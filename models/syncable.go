package models

import "time"

// Syncable carries the columns shared by every locally recorded business
// event that must eventually reach the HQ server of record.
//
// LocalId is generated on creation (UUID) and doubles as the idempotency
// token forwarded on the wire, so retried submissions are recognized
// server-side. ServerId is assigned by HQ on first acknowledgment and
// never changes afterwards. Invariant: ServerId != nil <=> SyncStatus ==
// SYNCED.
type Syncable struct {
	LocalId       string     `gorm:"size:36;uniqueIndex;not null" json:"local_id"`
	ServerId      *int64     `gorm:"index" json:"server_id"`
	SyncStatus    SyncStatus `gorm:"size:20;not null;index;default:'PENDING'" json:"sync_status"`
	SyncAttempts  int        `gorm:"default:0" json:"sync_attempts"`
	LastSyncError *string    `gorm:"type:text" json:"last_sync_error"`
	NextSyncAt    *time.Time `gorm:"index" json:"next_sync_at"`
}

func (s Syncable) GetLocalId() string        { return s.LocalId }
func (s Syncable) GetServerId() *int64       { return s.ServerId }
func (s Syncable) GetSyncStatus() SyncStatus { return s.SyncStatus }
func (s Syncable) GetSyncAttempts() int      { return s.SyncAttempts }

// IsAcknowledged reports whether HQ has already assigned an identifier.
// The engine never re-posts an acknowledged record.
func (s Syncable) IsAcknowledged() bool { return s.ServerId != nil }

// SyncableRecord is satisfied by Batch, SalesTransaction and Refund and
// lets the claim-and-mark layer stay generic over the three kinds.
type SyncableRecord interface {
	GetID() int
	GetLocalId() string
	GetServerId() *int64
	GetSyncStatus() SyncStatus
	GetSyncAttempts() int
}
