package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
)

// Ledger is the slice of the event-ledger repo the dispatcher mutates.
type Ledger interface {
	FindByID(ctx context.Context, id uint64) (*model.CouponEvent, error)
	ListPending(ctx context.Context, limit int) ([]model.CouponEvent, error)
	MarkProcessed(ctx context.Context, event *model.CouponEvent) error
	MarkFailed(ctx context.Context, event *model.CouponEvent, cause error, attempt int) error
}

// EntitySource re-fetches current entity state from the source-of-truth.
// Event payloads are never used as indexing input.
type EntitySource interface {
	CouponByID(ctx context.Context, id uint64) (*model.Coupon, error)
	PromotionByID(ctx context.Context, id uint64) (*model.Promotion, error)
	UserByID(ctx context.Context, id uint64) (*model.User, error)
	CouponsForPromotion(ctx context.Context, promotionID uint64, chunkSize int, fn func([]model.Coupon) error) error
	CouponsForUser(ctx context.Context, userID uint64, chunkSize int, fn func([]model.Coupon) error) error
}

// Indexer is the mutation engine surface the dispatcher drives.
type Indexer interface {
	IndexCoupon(ctx context.Context, coupon *model.Coupon) error
	IndexPromotion(ctx context.Context, promotion *model.Promotion) error
	IndexUser(ctx context.Context, user *model.User) error
}

// Publisher broadcasts a processed event to external listeners. Best-effort;
// the dispatcher ignores its error.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) (int64, error)
}

type Config struct {
	Retry            RetryPolicy
	ReindexChunkSize int
	ProcessTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryPolicy(),
		ReindexChunkSize: 100,
		ProcessTimeout:   300 * time.Second,
	}
}

// Dispatcher consumes ledger entries and drives the mutation engine. Per
// entry it runs the state machine Pending -> Processed or Pending ->
// Pending(retry_count+1), with terminal failure at the ledger ceiling.
type Dispatcher struct {
	ledger   Ledger
	entities EntitySource
	indexer  Indexer
	fanout   Publisher
	conf     Config
}

func New(ledger Ledger, entities EntitySource, indexer Indexer, fanout Publisher, conf Config) *Dispatcher {
	if conf.Retry.MaxAttempts <= 0 {
		conf.Retry.MaxAttempts = 1
	}
	if conf.ReindexChunkSize <= 0 {
		conf.ReindexChunkSize = 100
	}
	return &Dispatcher{ledger: ledger, entities: entities, indexer: indexer, fanout: fanout, conf: conf}
}

// ProcessOne handles a single ledger entry end to end: re-fetch the entity,
// index it, mark the entry. Data errors (vanished entity, unknown event
// type) are soft successes; infrastructure errors consume the dispatcher's
// attempt budget and then a ledger retry.
func (d *Dispatcher) ProcessOne(ctx context.Context, event *model.CouponEvent) error {
	if event.IsProcessed {
		logrus.WithField("event_id", event.ID).Info("Coupon event already processed")
		return nil
	}

	if d.conf.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.conf.ProcessTimeout)
		defer cancel()
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"event_type":  event.EventType,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}).Info("Processing coupon event")

	var lastErr error
	for attempt := 1; attempt <= d.conf.Retry.MaxAttempts; attempt++ {
		skip, err := d.applyEvent(ctx, event)
		if err == nil {
			if markErr := d.ledger.MarkProcessed(ctx, event); markErr != nil {
				return markErr
			}
			if !skip {
				d.publish(ctx, event)
			}
			return nil
		}

		lastErr = err
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_id": event.ID,
			"attempt":  attempt,
		}).Warn("Coupon event attempt failed")

		if attempt < d.conf.Retry.MaxAttempts {
			if werr := d.conf.Retry.Wait(ctx); werr != nil {
				lastErr = werr
				break
			}
		}
	}

	if markErr := d.ledger.MarkFailed(ctx, event, lastErr, d.conf.Retry.MaxAttempts); markErr != nil {
		logrus.WithError(markErr).WithField("event_id", event.ID).Error("Failed to record event failure")
	}
	return lastErr
}

// applyEvent resolves the entity and dispatches to the type-specific engine
// call. skip=true means a soft success that should not be broadcast.
func (d *Dispatcher) applyEvent(ctx context.Context, event *model.CouponEvent) (skip bool, err error) {
	if !event.EventType.Known() {
		logrus.WithFields(logrus.Fields{
			"event_type": event.EventType,
			"event_id":   event.ID,
		}).Warn("Unknown event type, skipping")
		return true, nil
	}

	switch event.EntityType {
	case model.EntityCoupon:
		return d.applyCouponEvent(ctx, event)
	case model.EntityPromotion:
		return d.applyPromotionEvent(ctx, event)
	case model.EntityUser:
		return d.applyUserEvent(ctx, event)
	default:
		return false, fmt.Errorf("event %d has unmapped entity type %q", event.ID, event.EntityType)
	}
}

func (d *Dispatcher) applyCouponEvent(ctx context.Context, event *model.CouponEvent) (bool, error) {
	coupon, err := d.entities.CouponByID(ctx, event.EntityID)
	if err != nil {
		return false, err
	}
	if coupon == nil {
		logrus.WithFields(logrus.Fields{
			"coupon_id": event.EntityID,
			"event_id":  event.ID,
		}).Warn("Coupon not found for event")
		return true, nil
	}
	return false, d.indexer.IndexCoupon(ctx, coupon)
}

func (d *Dispatcher) applyPromotionEvent(ctx context.Context, event *model.CouponEvent) (bool, error) {
	promotion, err := d.entities.PromotionByID(ctx, event.EntityID)
	if err != nil {
		return false, err
	}
	if promotion == nil {
		logrus.WithFields(logrus.Fields{
			"promotion_id": event.EntityID,
			"event_id":     event.ID,
		}).Warn("Promotion not found for event")
		return true, nil
	}

	if err := d.indexer.IndexPromotion(ctx, promotion); err != nil {
		return false, err
	}

	// A promotion state change affects every attached coupon's validity.
	switch event.EventType {
	case model.EventPromotionActivated, model.EventPromotionDeactivated, model.EventPromotionUpdated:
		d.reindexPromotionCoupons(ctx, promotion.ID)
	}
	return false, nil
}

func (d *Dispatcher) applyUserEvent(ctx context.Context, event *model.CouponEvent) (bool, error) {
	user, err := d.entities.UserByID(ctx, event.EntityID)
	if err != nil {
		return false, err
	}
	if user == nil {
		logrus.WithFields(logrus.Fields{
			"user_id":  event.EntityID,
			"event_id": event.ID,
		}).Warn("User not found for event")
		return true, nil
	}

	if err := d.indexer.IndexUser(ctx, user); err != nil {
		return false, err
	}

	if event.EventType == model.EventUserLevelChanged {
		d.reindexUserCoupons(ctx, user.ID)
	}
	return false, nil
}

// reindexPromotionCoupons is best-effort: one bad coupon must not abort the
// batch, and a batch failure must not fail the triggering event.
func (d *Dispatcher) reindexPromotionCoupons(ctx context.Context, promotionID uint64) {
	err := d.entities.CouponsForPromotion(ctx, promotionID, d.conf.ReindexChunkSize, func(coupons []model.Coupon) error {
		for i := range coupons {
			if err := d.indexer.IndexCoupon(ctx, &coupons[i]); err != nil {
				logrus.WithError(err).WithField("coupon_id", coupons[i].ID).Error("Failed to reindex coupon")
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("promotion_id", promotionID).Error("Failed to iterate promotion coupons")
	}
}

func (d *Dispatcher) reindexUserCoupons(ctx context.Context, userID uint64) {
	err := d.entities.CouponsForUser(ctx, userID, d.conf.ReindexChunkSize, func(coupons []model.Coupon) error {
		for i := range coupons {
			if err := d.indexer.IndexCoupon(ctx, &coupons[i]); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"coupon_id": coupons[i].ID,
					"user_id":   userID,
				}).Error("Failed to reindex user coupon")
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to iterate user coupons")
	}
}

type eventNotification struct {
	EventID    uint64    `json:"event_id"`
	EntityType string    `json:"entity_type"`
	EntityID   uint64    `json:"entity_id"`
	UserID     *uint64   `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (d *Dispatcher) publish(ctx context.Context, event *model.CouponEvent) {
	if d.fanout == nil {
		return
	}
	_, err := d.fanout.Publish(ctx, string(event.EventType), eventNotification{
		EventID:    event.ID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		UserID:     event.UserID,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		// Broadcast is best-effort, never fails the event.
		logrus.WithError(err).WithField("event_id", event.ID).Warn("Fanout publish failed")
	}
}
