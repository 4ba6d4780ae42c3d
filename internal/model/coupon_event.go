package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventType identifies one kind of entity mutation recorded in the ledger.
// The set is closed; anything else is treated as unknown and skipped by the
// dispatcher.
type EventType string

const (
	EventCouponIssued         EventType = "coupon_issued"
	EventCouponUsed           EventType = "coupon_used"
	EventCouponExpired        EventType = "coupon_expired"
	EventCouponRevoked        EventType = "coupon_revoked"
	EventPromotionCreated     EventType = "promotion_created"
	EventPromotionUpdated     EventType = "promotion_updated"
	EventPromotionActivated   EventType = "promotion_activated"
	EventPromotionDeactivated EventType = "promotion_deactivated"
	EventUserLevelChanged     EventType = "user_level_changed"
	EventUserProfileUpdated   EventType = "user_profile_updated"
)

// EntityType of the record a ledger entry points at.
const (
	EntityCoupon    = "coupon"
	EntityPromotion = "promotion"
	EntityUser      = "user"
)

// EntityType maps an event type onto the entity kind it mutates.
// Unknown event types map to "".
func (t EventType) EntityType() string {
	switch t {
	case EventCouponIssued, EventCouponUsed, EventCouponExpired, EventCouponRevoked:
		return EntityCoupon
	case EventPromotionCreated, EventPromotionUpdated, EventPromotionActivated, EventPromotionDeactivated:
		return EntityPromotion
	case EventUserLevelChanged, EventUserProfileUpdated:
		return EntityUser
	}
	return ""
}

// Known reports whether the event type belongs to the closed enum.
func (t EventType) Known() bool {
	return t.EntityType() != ""
}

// CouponEvent is one row in the event ledger. Immutable once created except
// for the processing-status fields, which only the dispatcher touches.
type CouponEvent struct {
	ID               uint64         `json:"id" gorm:"primaryKey"`
	EventType        EventType      `json:"event_type" gorm:"size:64;index:idx_events_type_occurred"`
	EntityType       string         `json:"entity_type" gorm:"size:32;index:idx_events_entity"`
	EntityID         uint64         `json:"entity_id" gorm:"index:idx_events_entity,priority:2"`
	UserID           *uint64        `json:"user_id" gorm:"index"`
	EventData        datatypes.JSON `json:"event_data"`
	PreviousState    datatypes.JSON `json:"previous_state"`
	CurrentState     datatypes.JSON `json:"current_state"`
	OccurredAt       time.Time      `json:"occurred_at" gorm:"index:idx_events_type_occurred,priority:2;index:idx_events_processed_occurred,priority:2"`
	IsProcessed      bool           `json:"is_processed" gorm:"default:false;index:idx_events_processed_occurred"`
	ProcessedAt      *time.Time     `json:"processed_at"`
	RetryCount       int            `json:"retry_count" gorm:"default:0"`
	ProcessingErrors datatypes.JSON `json:"processing_errors"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CanRetry reports whether the entry is still eligible for automatic
// dispatch. maxRetries is the ledger-side ceiling, not the dispatcher's
// per-run attempt budget.
func (e *CouponEvent) CanRetry(maxRetries int) bool {
	return !e.IsProcessed && e.RetryCount < maxRetries
}

// HasFailed reports whether the entry is terminal-failed: unprocessed and
// out of retries. Such entries need an explicit reset to re-enter the queue.
func (e *CouponEvent) HasFailed(maxRetries int) bool {
	return !e.IsProcessed && e.RetryCount >= maxRetries
}
