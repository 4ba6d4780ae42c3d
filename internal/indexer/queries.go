package indexer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
)

// Queries are the read-only operations external callers run against the
// index. All of them tolerate eventual consistency: a missing projection is
// skipped, not an error.
type Queries struct {
	store *Store
	keys  Keys
}

func NewQueries(store *Store, keys Keys) *Queries {
	return &Queries{store: store, keys: keys}
}

// UserAvailableCoupons returns the user's active, currently valid coupons.
func (q *Queries) UserAvailableCoupons(ctx context.Context, userID uint64) ([]CouponProjection, error) {
	ids, err := q.store.SetMembers(ctx, q.keys.UserCoupons(userID, model.CouponStatusActive))
	if err != nil {
		return nil, err
	}

	coupons := make([]CouponProjection, 0, len(ids))
	for _, id := range ids {
		fields, err := q.store.ReadHash(ctx, q.keys.Coupon(id))
		if err != nil {
			return nil, err
		}
		p, err := ParseCouponProjection(fields)
		if err != nil || p == nil {
			continue
		}
		if p.Valid() {
			coupons = append(coupons, *p)
		}
	}
	return coupons, nil
}

// ExpiringCoupons returns coupons whose expiry falls within the window.
func (q *Queries) ExpiringCoupons(ctx context.Context, within time.Duration) ([]CouponProjection, error) {
	cutoff := time.Now().Add(within).Unix()
	ids, err := q.store.SortedRangeByScore(ctx, q.keys.ExpiringCoupons(), 0, float64(cutoff))
	if err != nil {
		return nil, err
	}

	coupons := make([]CouponProjection, 0, len(ids))
	for _, id := range ids {
		fields, err := q.store.ReadHash(ctx, q.keys.Coupon(id))
		if err != nil {
			return nil, err
		}
		p, err := ParseCouponProjection(fields)
		if err != nil || p == nil {
			continue
		}
		coupons = append(coupons, *p)
	}
	return coupons, nil
}

// targetingRules is the subset of promotion targeting the index can answer
// from its coarse sets.
type targetingRules struct {
	UserLevel []uint64 `json:"user_level"`
	MinPoints *int     `json:"min_points"`
}

// EligibleUsersForPromotion resolves the promotion's targeting rules against
// the level and point-range sets. A promotion without an indexed projection
// yields an empty result.
func (q *Queries) EligibleUsersForPromotion(ctx context.Context, promotionID uint64) ([]uint64, error) {
	fields, err := q.store.ReadHash(ctx, q.keys.Promotion(promotionID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var rules targetingRules
	if raw := fields["targeting_rules"]; raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &rules); err != nil {
			logrus.WithError(err).WithField("promotion_id", promotionID).
				Warn("Unparseable targeting rules in promotion projection")
			return nil, nil
		}
	}

	seen := map[uint64]struct{}{}
	var userIDs []uint64

	for _, levelID := range rules.UserLevel {
		ids, err := q.store.SetMembers(ctx, q.keys.UsersByLevel(levelID))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				userIDs = append(userIDs, id)
			}
		}
	}

	if rules.MinPoints != nil {
		for _, bucket := range rangesAtOrAbove(*rules.MinPoints) {
			ids, err := q.store.SetMembers(ctx, q.keys.UsersByPointRange(bucket))
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					userIDs = append(userIDs, id)
				}
			}
		}
	}

	return userIDs, nil
}

// rangesAtOrAbove lists the point-range buckets that can contain a user with
// at least minPoints. The bucket holding minPoints itself is included; exact
// balances are re-checked upstream when it matters.
func rangesAtOrAbove(minPoints int) []string {
	all := []string{"low", "medium", "high", "premium"}
	start := PointRange(minPoints)
	for i, r := range all {
		if r == start {
			return all[i:]
		}
	}
	return all
}
