package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultMaxRetries is the ledger-side retry ceiling. An unprocessed entry
// that reaches it is terminal-failed and invisible to ListPending until
// explicitly reset.
const DefaultMaxRetries = 5

// Repo owns every read and write of the coupon_events table. Entries are
// immutable after creation except for the processing-status fields.
type Repo struct {
	db         *gorm.DB
	maxRetries int
}

func NewRepo(db *gorm.DB, maxRetries int) *Repo {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Repo{db: db, maxRetries: maxRetries}
}

func (r *Repo) MaxRetries() int { return r.maxRetries }

// AppendInput describes one entity mutation to record. Payload and the state
// snapshots are marshalled to JSON columns; nil or empty snapshots stay NULL.
type AppendInput struct {
	EventType     model.EventType
	EntityID      uint64
	UserID        *uint64
	Payload       any
	PreviousState any
	CurrentState  any
}

// Append durably records one event. The row is visible to dispatch polling
// as soon as the insert commits.
func (r *Repo) Append(ctx context.Context, in AppendInput) (*model.CouponEvent, error) {
	entityType := in.EventType.EntityType()
	if entityType == "" {
		return nil, fmt.Errorf("unknown event type %q", in.EventType)
	}

	payload, err := toJSON(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	prev, err := toJSON(in.PreviousState)
	if err != nil {
		return nil, fmt.Errorf("marshal previous state: %w", err)
	}
	curr, err := toJSON(in.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("marshal current state: %w", err)
	}

	event := model.CouponEvent{
		EventType:     in.EventType,
		EntityType:    entityType,
		EntityID:      in.EntityID,
		UserID:        in.UserID,
		EventData:     payload,
		PreviousState: prev,
		CurrentState:  curr,
		OccurredAt:    time.Now(),
	}

	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *Repo) FindByID(ctx context.Context, id uint64) (*model.CouponEvent, error) {
	var event model.CouponEvent
	err := r.db.WithContext(ctx).First(&event, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListPending returns unprocessed entries still under the retry ceiling,
// oldest first.
func (r *Repo) ListPending(ctx context.Context, limit int) ([]model.CouponEvent, error) {
	var events []model.CouponEvent
	err := r.db.WithContext(ctx).
		Where("is_processed = ? AND retry_count < ?", false, r.maxRetries).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListFailed returns terminal-failed entries, most recent first.
func (r *Repo) ListFailed(ctx context.Context, limit int) ([]model.CouponEvent, error) {
	var events []model.CouponEvent
	err := r.db.WithContext(ctx).
		Where("is_processed = ? AND retry_count >= ?", false, r.maxRetries).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkProcessed flips the entry to terminal success. Safe to call more than
// once; the update is the same either way.
func (r *Repo) MarkProcessed(ctx context.Context, event *model.CouponEvent) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"is_processed":      true,
		"processed_at":      &now,
		"processing_errors": nil,
	}).Error
	if err != nil {
		return err
	}
	event.IsProcessed = true
	event.ProcessedAt = &now
	return nil
}

// MarkFailed increments retry_count and stores the error. It never moves the
// entry to another status: at the ceiling the row simply stops matching
// ListPending.
func (r *Repo) MarkFailed(ctx context.Context, event *model.CouponEvent, cause error, attempt int) error {
	errInfo, _ := json.Marshal(map[string]interface{}{
		"error":     cause.Error(),
		"attempt":   attempt,
		"failed_at": time.Now().Format(time.RFC3339),
	})

	newCount := event.RetryCount + 1
	err := r.db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"retry_count":       newCount,
		"processing_errors": datatypes.JSON(errInfo),
	}).Error
	if err != nil {
		return err
	}
	event.RetryCount = newCount
	event.ProcessingErrors = errInfo
	return nil
}

// ResetForRetry requeues a terminal-failed entry: retry_count back to zero,
// errors cleared. The caller re-dispatches it.
func (r *Repo) ResetForRetry(ctx context.Context, event *model.CouponEvent) error {
	err := r.db.WithContext(ctx).Model(event).Updates(map[string]interface{}{
		"retry_count":       0,
		"processing_errors": nil,
	}).Error
	if err != nil {
		return err
	}
	event.RetryCount = 0
	event.ProcessingErrors = nil
	return nil
}

// EventsForEntity returns the recent ledger history of one entity.
func (r *Repo) EventsForEntity(ctx context.Context, entityType string, entityID uint64, limit int) ([]model.CouponEvent, error) {
	var events []model.CouponEvent
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *Repo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.CouponEvent{}).
		Where("is_processed = ? AND retry_count < ?", false, r.maxRetries).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountFailed(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.CouponEvent{}).
		Where("is_processed = ? AND retry_count >= ?", false, r.maxRetries).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.CouponEvent{}).
		Where("occurred_at >= ?", since).
		Count(&n).Error
	return n, err
}

// TypeStat is one row of the per-type daily event statistics.
type TypeStat struct {
	EventType model.EventType `json:"event_type"`
	Date      string          `json:"date"`
	Count     int64           `json:"count"`
}

// Stats aggregates event counts per type and day over the trailing window.
func (r *Repo) Stats(ctx context.Context, days int) ([]TypeStat, error) {
	var stats []TypeStat
	start := time.Now().AddDate(0, 0, -days)
	err := r.db.WithContext(ctx).Model(&model.CouponEvent{}).
		Select("event_type, DATE(occurred_at) as date, COUNT(*) as count").
		Where("occurred_at >= ?", start).
		Group("event_type, date").
		Order("date DESC").
		Scan(&stats).Error
	return stats, err
}

// CleanupOld deletes terminal-success entries older than the cutoff. Pending
// and terminal-failed rows are never touched here.
func (r *Repo) CleanupOld(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("is_processed = ? AND occurred_at < ?", true, cutoff).
		Delete(&model.CouponEvent{})
	return res.RowsAffected, res.Error
}

// toJSON normalizes a snapshot value into a JSON column. Nil values and
// empty raw byte payloads map to SQL NULL, not the JSON literal null.
func toJSON(v any) (datatypes.JSON, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case datatypes.JSON:
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	case json.RawMessage:
		if len(b) == 0 {
			return nil, nil
		}
		return datatypes.JSON(b), nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		return datatypes.JSON(b), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
