package model

import (
	"time"

	"gorm.io/datatypes"
)

// Index-write status values, one failure domain per (index_type, entity_key)
// pair. Independent of the ledger's retry bookkeeping.
const (
	IndexStatusPending   = "pending"
	IndexStatusIndexing  = "indexing"
	IndexStatusCompleted = "completed"
	IndexStatusFailed    = "failed"
)

// CouponIndexStatus tracks the last index write for one entity key. Used for
// operational visibility only; readers of the index never consult it.
type CouponIndexStatus struct {
	ID            uint64         `json:"id" gorm:"primaryKey"`
	IndexType     string         `json:"index_type" gorm:"size:64;uniqueIndex:idx_index_status_key"`
	EntityKey     string         `json:"entity_key" gorm:"size:191;uniqueIndex:idx_index_status_key,priority:2"`
	EntityID      *uint64        `json:"entity_id" gorm:"index"`
	Status        string         `json:"status" gorm:"size:32;default:'pending';index"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	LastIndexedAt *time.Time     `json:"last_indexed_at"`
	IndexData     datatypes.JSON `json:"index_data"`
	ErrorMessage  *string        `json:"error_message" gorm:"type:text"`
	RetryCount    int            `json:"retry_count" gorm:"default:0"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (CouponIndexStatus) TableName() string {
	return "coupon_index_status"
}
