package indexer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusRecorder persists the per-(index-type, entity-key) write outcome.
// This is the index-side failure domain, independent of ledger retries.
type StatusRecorder interface {
	RecordCompleted(ctx context.Context, indexType, entityKey string, entityID uint64, indexData map[string]interface{})
	RecordFailed(ctx context.Context, indexType, entityKey string, entityID uint64, errMsg string)
}

// DBStatusRecorder writes coupon_index_status rows. Recording failures are
// logged, never propagated: status bookkeeping must not fail an index write.
type DBStatusRecorder struct {
	db *gorm.DB
}

func NewDBStatusRecorder(db *gorm.DB) *DBStatusRecorder {
	return &DBStatusRecorder{db: db}
}

func (r *DBStatusRecorder) RecordCompleted(ctx context.Context, indexType, entityKey string, entityID uint64, indexData map[string]interface{}) {
	now := time.Now()
	var data datatypes.JSON
	if indexData != nil {
		if b, err := json.Marshal(indexData); err == nil {
			data = b
		}
	}
	row := model.CouponIndexStatus{
		IndexType:     indexType,
		EntityKey:     entityKey,
		EntityID:      &entityID,
		Status:        model.IndexStatusCompleted,
		LastUpdatedAt: now,
		LastIndexedAt: &now,
		IndexData:     data,
		RetryCount:    0,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "index_type"}, {Name: "entity_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          model.IndexStatusCompleted,
			"last_updated_at": now,
			"last_indexed_at": &now,
			"index_data":      data,
			"error_message":   nil,
			"retry_count":     0,
		}),
	}).Create(&row).Error
	if err != nil {
		logrus.WithError(err).WithField("entity_key", entityKey).Error("Failed to record index status")
	}
}

func (r *DBStatusRecorder) RecordFailed(ctx context.Context, indexType, entityKey string, entityID uint64, errMsg string) {
	now := time.Now()
	row := model.CouponIndexStatus{
		IndexType:     indexType,
		EntityKey:     entityKey,
		EntityID:      &entityID,
		Status:        model.IndexStatusFailed,
		LastUpdatedAt: now,
		ErrorMessage:  &errMsg,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "index_type"}, {Name: "entity_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          model.IndexStatusFailed,
			"last_updated_at": now,
			"error_message":   errMsg,
			"retry_count":     gorm.Expr("retry_count + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		logrus.WithError(err).WithField("entity_key", entityKey).Error("Failed to record index status")
	}
}
