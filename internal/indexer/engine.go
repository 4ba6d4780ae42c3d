package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
)

// Engine computes and writes the denormalized projection of an entity.
// Every IndexX call expects the full current entity, freshly re-fetched from
// the source-of-truth, never state recovered from an event payload. The
// multi-key write is one logical unit with no rollback: a partial failure is
// left for the consistency pass to correct.
type Engine struct {
	store  *Store
	keys   Keys
	status StatusRecorder
}

// NewEngine builds the mutation engine. status may be nil when no bookkeeping
// store is attached (tests, ad-hoc tooling).
func NewEngine(store *Store, keys Keys, status StatusRecorder) *Engine {
	return &Engine{store: store, keys: keys, status: status}
}

func (e *Engine) Keys() Keys    { return e.keys }
func (e *Engine) Store() *Store { return e.store }

// IndexCoupon writes the coupon projection hash, moves the coupon between
// status-partition sets, and maintains the expiring-coupons sorted index.
// The old partition memberships are derived from the previously indexed
// hash, not from the event type: a racing writer can still interleave, the
// next reconciliation converges it.
func (e *Engine) IndexCoupon(ctx context.Context, coupon *model.Coupon) error {
	key := e.keys.Coupon(coupon.ID)
	entityKey := fmt.Sprintf("coupon:%d", coupon.ID)

	prev, err := e.store.ReadHash(ctx, key)
	if err != nil {
		e.recordFailed(ctx, model.EntityCoupon, entityKey, coupon.ID, err)
		return err
	}

	fields := couponFields(coupon, time.Now())
	if err := e.store.WriteHash(ctx, key, fields); err != nil {
		e.recordFailed(ctx, model.EntityCoupon, entityKey, coupon.ID, err)
		return err
	}

	if err := e.moveCouponMemberships(ctx, coupon, prev); err != nil {
		e.recordFailed(ctx, model.EntityCoupon, entityKey, coupon.ID, err)
		return err
	}

	if err := e.updateExpiringCoupons(ctx, coupon); err != nil {
		e.recordFailed(ctx, model.EntityCoupon, entityKey, coupon.ID, err)
		return err
	}

	e.recordCompleted(ctx, model.EntityCoupon, entityKey, coupon.ID, fields)

	logrus.WithFields(logrus.Fields{
		"coupon_id": coupon.ID,
		"key":       key,
	}).Info("Coupon indexed successfully")
	return nil
}

// moveCouponMemberships compares the freshly fetched coupon against what the
// index last saw and derives the remove-old/add-new set operations. Both the
// status partition and the owner can have changed since the last write.
func (e *Engine) moveCouponMemberships(ctx context.Context, coupon *model.Coupon, prev map[string]string) error {
	prevStatus := prev["status"]
	prevUserID, _ := strconv.ParseUint(prev["user_id"], 10, 64)
	prevPromotionID, _ := strconv.ParseUint(prev["promotion_id"], 10, 64)

	moved := prevStatus != "" && (prevStatus != coupon.Status ||
		prevUserID != encodeOptionalID(coupon.UserID) ||
		prevPromotionID != coupon.PromotionID)

	if moved {
		if prevUserID != 0 {
			if err := e.store.RemoveFromSet(ctx, e.keys.UserCoupons(prevUserID, prevStatus), coupon.ID); err != nil {
				return err
			}
		}
		if prevPromotionID != 0 {
			if err := e.store.RemoveFromSet(ctx, e.keys.PromotionCoupons(prevPromotionID, prevStatus), coupon.ID); err != nil {
				return err
			}
		}
	}

	if coupon.UserID != nil {
		if err := e.store.AddToSet(ctx, e.keys.UserCoupons(*coupon.UserID, coupon.Status), coupon.ID); err != nil {
			return err
		}
	}
	return e.store.AddToSet(ctx, e.keys.PromotionCoupons(coupon.PromotionID, coupon.Status), coupon.ID)
}

// updateExpiringCoupons keeps the expiry-sorted index scoped to active
// coupons only.
func (e *Engine) updateExpiringCoupons(ctx context.Context, coupon *model.Coupon) error {
	key := e.keys.ExpiringCoupons()
	if coupon.Status == model.CouponStatusActive {
		return e.store.AddToSorted(ctx, key, float64(coupon.ExpiresAt.Unix()), coupon.ID)
	}
	return e.store.RemoveFromSorted(ctx, key, coupon.ID)
}

// IndexPromotion writes the promotion projection, the priority-scored
// active-promotions index, and the by-type classification set.
func (e *Engine) IndexPromotion(ctx context.Context, promotion *model.Promotion) error {
	key := e.keys.Promotion(promotion.ID)
	entityKey := fmt.Sprintf("promotion:%d", promotion.ID)

	prev, err := e.store.ReadHash(ctx, key)
	if err != nil {
		e.recordFailed(ctx, model.EntityPromotion, entityKey, promotion.ID, err)
		return err
	}

	fields := promotionFields(promotion, time.Now())
	if err := e.store.WriteHash(ctx, key, fields); err != nil {
		e.recordFailed(ctx, model.EntityPromotion, entityKey, promotion.ID, err)
		return err
	}

	activeKey := e.keys.ActivePromotions()
	if promotion.IsCurrentlyActive() {
		err = e.store.AddToSorted(ctx, activeKey, float64(promotion.Priority), promotion.ID)
	} else {
		err = e.store.RemoveFromSorted(ctx, activeKey, promotion.ID)
	}
	if err != nil {
		e.recordFailed(ctx, model.EntityPromotion, entityKey, promotion.ID, err)
		return err
	}

	if prevType := prev["type"]; prevType != "" && prevType != promotion.Type {
		if err := e.store.RemoveFromSet(ctx, e.keys.PromotionsByType(prevType), promotion.ID); err != nil {
			e.recordFailed(ctx, model.EntityPromotion, entityKey, promotion.ID, err)
			return err
		}
	}
	if err := e.store.AddToSet(ctx, e.keys.PromotionsByType(promotion.Type), promotion.ID); err != nil {
		e.recordFailed(ctx, model.EntityPromotion, entityKey, promotion.ID, err)
		return err
	}

	e.recordCompleted(ctx, model.EntityPromotion, entityKey, promotion.ID, fields)

	logrus.WithFields(logrus.Fields{
		"promotion_id": promotion.ID,
		"key":          key,
	}).Info("Promotion indexed successfully")
	return nil
}

// IndexUser writes the user projection and the level/point-range targeting
// sets, moving the user out of stale buckets first.
func (e *Engine) IndexUser(ctx context.Context, user *model.User) error {
	key := e.keys.User(user.ID)
	entityKey := fmt.Sprintf("user:%d", user.ID)

	prev, err := e.store.ReadHash(ctx, key)
	if err != nil {
		e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
		return err
	}

	fields := userFields(user, time.Now())
	if err := e.store.WriteHash(ctx, key, fields); err != nil {
		e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
		return err
	}

	prevLevelID, _ := strconv.ParseUint(prev["user_level_id"], 10, 64)
	newLevelID := encodeOptionalID(user.UserLevelID)
	if prevLevelID != 0 && prevLevelID != newLevelID {
		if err := e.store.RemoveFromSet(ctx, e.keys.UsersByLevel(prevLevelID), user.ID); err != nil {
			e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
			return err
		}
	}
	if user.UserLevelID != nil {
		if err := e.store.AddToSet(ctx, e.keys.UsersByLevel(*user.UserLevelID), user.ID); err != nil {
			e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
			return err
		}
	}

	newRange := PointRange(user.Points)
	if prevPoints := prev["points"]; prevPoints != "" {
		n, err := strconv.Atoi(prevPoints)
		if err == nil {
			if prevRange := PointRange(n); prevRange != newRange {
				if err := e.store.RemoveFromSet(ctx, e.keys.UsersByPointRange(prevRange), user.ID); err != nil {
					e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
					return err
				}
			}
		}
	}
	if err := e.store.AddToSet(ctx, e.keys.UsersByPointRange(newRange), user.ID); err != nil {
		e.recordFailed(ctx, model.EntityUser, entityKey, user.ID, err)
		return err
	}

	e.recordCompleted(ctx, model.EntityUser, entityKey, user.ID, fields)

	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,
		"key":     key,
	}).Info("User indexed successfully")
	return nil
}

// RemoveCouponFromIndex tears down every membership and the projection hash
// for a coupon. Safe on coupons that were never (or only partially) indexed.
func (e *Engine) RemoveCouponFromIndex(ctx context.Context, couponID uint64) error {
	key := e.keys.Coupon(couponID)

	fields, err := e.store.ReadHash(ctx, key)
	if err != nil {
		return err
	}

	if len(fields) > 0 {
		status := fields["status"]
		if userID, _ := strconv.ParseUint(fields["user_id"], 10, 64); userID != 0 {
			if err := e.store.RemoveFromSet(ctx, e.keys.UserCoupons(userID, status), couponID); err != nil {
				return err
			}
		}
		if promotionID, _ := strconv.ParseUint(fields["promotion_id"], 10, 64); promotionID != 0 {
			if err := e.store.RemoveFromSet(ctx, e.keys.PromotionCoupons(promotionID, status), couponID); err != nil {
				return err
			}
		}
	}

	if err := e.store.RemoveFromSorted(ctx, e.keys.ExpiringCoupons(), couponID); err != nil {
		return err
	}
	if err := e.store.DeleteKey(ctx, key); err != nil {
		return err
	}

	logrus.WithField("coupon_id", couponID).Info("Coupon removed from index")
	return nil
}

func (e *Engine) recordCompleted(ctx context.Context, indexType, entityKey string, entityID uint64, fields map[string]interface{}) {
	if e.status != nil {
		e.status.RecordCompleted(ctx, indexType, entityKey, entityID, fields)
	}
}

func (e *Engine) recordFailed(ctx context.Context, indexType, entityKey string, entityID uint64, cause error) {
	if e.status != nil {
		e.status.RecordFailed(ctx, indexType, entityKey, entityID, cause.Error())
	}
	logrus.WithError(cause).WithFields(logrus.Fields{
		"entity_key": entityKey,
	}).Error("Failed to index entity")
}
