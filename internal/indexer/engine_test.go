package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(client, 24*time.Hour)
	return NewEngine(store, NewKeys("coupon_idx:"), nil), mr
}

func uintPtr(v uint64) *uint64 { return &v }

func testCoupon(id uint64) *model.Coupon {
	return &model.Coupon{
		ID:             id,
		PromotionID:    7,
		Code:           "SAVE20",
		Status:         model.CouponStatusActive,
		UserID:         uintPtr(42),
		IssuedAt:       time.Now().Add(-time.Hour),
		ExpiresAt:      time.Now().Add(48 * time.Hour),
		DiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(20)),
	}
}

func TestIndexCouponWritesProjection(t *testing.T) {
	engine, mr := newTestEngine(t)
	ctx := context.Background()
	coupon := testCoupon(1)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))

	key := engine.Keys().Coupon(1)
	fields, err := engine.Store().ReadHash(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", fields["code"])
	assert.Equal(t, model.CouponStatusActive, fields["status"])
	assert.Equal(t, "42", fields["user_id"])
	assert.Equal(t, "7", fields["promotion_id"])
	assert.Equal(t, "20.00", fields["discount_amount"])
	assert.NotEmpty(t, fields["indexed_at"])

	assert.Greater(t, mr.TTL(key), time.Duration(0))

	userSet, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, userSet)

	promoSet, err := engine.Store().SetMembers(ctx, engine.Keys().PromotionCoupons(7, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, promoSet)

	score, ok, err := engine.Store().SortedScore(ctx, engine.Keys().ExpiringCoupons(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(coupon.ExpiresAt.Unix()), score)
}

func TestIndexCouponIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	coupon := testCoupon(1)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))
	first, err := engine.Store().ReadHash(ctx, engine.Keys().Coupon(1))
	require.NoError(t, err)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))
	second, err := engine.Store().ReadHash(ctx, engine.Keys().Coupon(1))
	require.NoError(t, err)

	delete(first, "indexed_at")
	delete(second, "indexed_at")
	assert.Equal(t, first, second)

	userSet, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Len(t, userSet, 1)
}

func TestIndexCouponStatusMove(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	coupon := testCoupon(1)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))

	now := time.Now()
	coupon.Status = model.CouponStatusUsed
	coupon.UsedAt = &now
	require.NoError(t, engine.IndexCoupon(ctx, coupon))

	activeSet, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Empty(t, activeSet)

	usedSet, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusUsed))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, usedSet)

	promoActive, err := engine.Store().SetMembers(ctx, engine.Keys().PromotionCoupons(7, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Empty(t, promoActive)

	// A non-active coupon leaves the expiry index.
	_, ok, err := engine.Store().SortedScore(ctx, engine.Keys().ExpiringCoupons(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexCouponOwnerChange(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	coupon := testCoupon(1)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))

	coupon.UserID = uintPtr(99)
	require.NoError(t, engine.IndexCoupon(ctx, coupon))

	oldOwner, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Empty(t, oldOwner)

	newOwner, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(99, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, newOwner)
}

func TestRemoveCouponFromIndex(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	coupon := testCoupon(1)

	require.NoError(t, engine.IndexCoupon(ctx, coupon))
	require.NoError(t, engine.RemoveCouponFromIndex(ctx, 1))

	fields, err := engine.Store().ReadHash(ctx, engine.Keys().Coupon(1))
	require.NoError(t, err)
	assert.Empty(t, fields)

	userSet, err := engine.Store().SetMembers(ctx, engine.Keys().UserCoupons(42, model.CouponStatusActive))
	require.NoError(t, err)
	assert.Empty(t, userSet)

	_, ok, err := engine.Store().SortedScore(ctx, engine.Keys().ExpiringCoupons(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing an absent coupon is a no-op.
	require.NoError(t, engine.RemoveCouponFromIndex(ctx, 1))
}

func TestIndexPromotion(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	promotion := &model.Promotion{
		ID:        7,
		Name:      "Summer Sale",
		Type:      model.PromotionTypePercentage,
		IsActive:  true,
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(time.Hour),
		Priority:  5,
	}
	require.NoError(t, engine.IndexPromotion(ctx, promotion))

	fields, err := engine.Store().ReadHash(ctx, engine.Keys().Promotion(7))
	require.NoError(t, err)
	assert.Equal(t, "1", fields["is_active"])
	assert.Equal(t, "1", fields["has_available_usage"])

	score, ok, err := engine.Store().SortedScore(ctx, engine.Keys().ActivePromotions(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(5), score)

	byType, err := engine.Store().SetMembers(ctx, engine.Keys().PromotionsByType(model.PromotionTypePercentage))
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, byType)

	promotion.IsActive = false
	require.NoError(t, engine.IndexPromotion(ctx, promotion))

	_, ok, err = engine.Store().SortedScore(ctx, engine.Keys().ActivePromotions(), 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexPromotionTypeChange(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	promotion := &model.Promotion{
		ID:        7,
		Type:      model.PromotionTypePercentage,
		StartDate: time.Now().Add(-time.Hour),
		EndDate:   time.Now().Add(time.Hour),
	}
	require.NoError(t, engine.IndexPromotion(ctx, promotion))

	promotion.Type = model.PromotionTypeFixedAmount
	require.NoError(t, engine.IndexPromotion(ctx, promotion))

	oldType, err := engine.Store().SetMembers(ctx, engine.Keys().PromotionsByType(model.PromotionTypePercentage))
	require.NoError(t, err)
	assert.Empty(t, oldType)

	newType, err := engine.Store().SetMembers(ctx, engine.Keys().PromotionsByType(model.PromotionTypeFixedAmount))
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, newType)
}

func TestIndexUserLevelAndPointMoves(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	user := &model.User{ID: 42, Email: "a@example.com", UserLevelID: uintPtr(1), Points: 500}
	require.NoError(t, engine.IndexUser(ctx, user))

	lowRange, err := engine.Store().SetMembers(ctx, engine.Keys().UsersByPointRange("low"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, lowRange)

	user.UserLevelID = uintPtr(2)
	user.Points = 6000
	require.NoError(t, engine.IndexUser(ctx, user))

	oldLevel, err := engine.Store().SetMembers(ctx, engine.Keys().UsersByLevel(1))
	require.NoError(t, err)
	assert.Empty(t, oldLevel)

	newLevel, err := engine.Store().SetMembers(ctx, engine.Keys().UsersByLevel(2))
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, newLevel)

	lowRange, err = engine.Store().SetMembers(ctx, engine.Keys().UsersByPointRange("low"))
	require.NoError(t, err)
	assert.Empty(t, lowRange)

	highRange, err := engine.Store().SetMembers(ctx, engine.Keys().UsersByPointRange("high"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, highRange)
}

func TestPointRange(t *testing.T) {
	assert.Equal(t, "low", PointRange(0))
	assert.Equal(t, "low", PointRange(999))
	assert.Equal(t, "medium", PointRange(1000))
	assert.Equal(t, "high", PointRange(5000))
	assert.Equal(t, "premium", PointRange(10000))
}
