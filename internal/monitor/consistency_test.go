package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/indexer"
	"github.com/taesoo1298/coupon-indexer/internal/model"
	"github.com/taesoo1298/coupon-indexer/internal/resync"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	coupons  []model.Coupon
	invalid  int64
	dangling int64
}

func (f *fakeSampler) SampleCoupons(_ context.Context, limit int) ([]model.Coupon, error) {
	if len(f.coupons) > limit {
		return f.coupons[:limit], nil
	}
	return f.coupons, nil
}

func (f *fakeSampler) CountInvalidExpiry(_ context.Context) (int64, error) {
	return f.invalid, nil
}

func (f *fakeSampler) CountDanglingPromotionRefs(_ context.Context) (int64, error) {
	return f.dangling, nil
}

type fakeRetrier struct {
	failed []model.CouponEvent
	reset  []uint64
	err    error
}

func (f *fakeRetrier) ListFailed(_ context.Context, limit int) ([]model.CouponEvent, error) {
	if len(f.failed) > limit {
		return f.failed[:limit], nil
	}
	return f.failed, nil
}

func (f *fakeRetrier) ResetForRetry(_ context.Context, event *model.CouponEvent) error {
	if f.err != nil {
		return f.err
	}
	f.reset = append(f.reset, event.ID)
	return nil
}

type fakeFixer struct {
	opts   resync.Options
	report *resync.Report
}

func (f *fakeFixer) Resync(_ context.Context, opts resync.Options) (*resync.Report, error) {
	f.opts = opts
	if f.report != nil {
		return f.report, nil
	}
	return &resync.Report{Coupons: resync.Counters{Indexed: len(opts.IDs)}}, nil
}

func newTestMonitor(t *testing.T, sampler *fakeSampler, retrier *fakeRetrier, fixer *fakeFixer) (*Monitor, *indexer.Engine) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	keys := indexer.NewKeys("coupon_idx:")
	store := indexer.NewStore(client, time.Hour)
	engine := indexer.NewEngine(store, keys, nil)

	return New(sampler, retrier, store, keys, fixer, 100), engine
}

func sampleCoupon(id uint64, status string) model.Coupon {
	userID := uint64(42)
	return model.Coupon{
		ID:          id,
		PromotionID: 7,
		Code:        "SAVE20",
		Status:      status,
		UserID:      &userID,
		IssuedAt:    time.Now().Add(-time.Hour),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func TestCheckConsistencyCleanIndex(t *testing.T) {
	sampler := &fakeSampler{coupons: []model.Coupon{sampleCoupon(1, model.CouponStatusActive)}}
	mon, engine := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})
	ctx := context.Background()

	coupon := sampler.coupons[0]
	require.NoError(t, engine.IndexCoupon(ctx, &coupon))

	report, err := mon.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sampled)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Discrepancies)
}

func TestCheckConsistencyFindsMissingEntry(t *testing.T) {
	sampler := &fakeSampler{coupons: []model.Coupon{sampleCoupon(1, model.CouponStatusActive)}}
	mon, _ := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})

	report, err := mon.CheckConsistency(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "missing", report.Discrepancies[0].Kind)
	assert.Equal(t, uint64(1), report.Discrepancies[0].CouponID)
}

func TestCheckConsistencyFindsStaleStatus(t *testing.T) {
	sampler := &fakeSampler{coupons: []model.Coupon{sampleCoupon(1, model.CouponStatusUsed)}}
	mon, engine := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})
	ctx := context.Background()

	// Index the coupon as it looked before it was redeemed.
	stale := sampleCoupon(1, model.CouponStatusActive)
	require.NoError(t, engine.IndexCoupon(ctx, &stale))

	report, err := mon.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "stale_status", report.Discrepancies[0].Kind)
}

func TestCheckConsistencyFindsMissingMembership(t *testing.T) {
	sampler := &fakeSampler{coupons: []model.Coupon{sampleCoupon(1, model.CouponStatusActive)}}
	mon, engine := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})
	ctx := context.Background()

	coupon := sampler.coupons[0]
	require.NoError(t, engine.IndexCoupon(ctx, &coupon))

	// Drop the user partition membership behind the engine's back. The hash
	// alone is not enough for a usable coupon.
	key := engine.Keys().UserCoupons(*coupon.UserID, coupon.Status)
	require.NoError(t, engine.Store().RemoveFromSet(ctx, key, coupon.ID))

	report, err := mon.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "missing_membership", report.Discrepancies[0].Kind)
	assert.Contains(t, report.Discrepancies[0].Detail, "user 42")
}

func TestCheckConsistencyFlagsExpiredButActive(t *testing.T) {
	coupon := sampleCoupon(1, model.CouponStatusActive)
	coupon.ExpiresAt = time.Now().Add(-time.Minute)
	sampler := &fakeSampler{coupons: []model.Coupon{coupon}}
	mon, engine := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})
	ctx := context.Background()

	require.NoError(t, engine.IndexCoupon(ctx, &coupon))

	report, err := mon.CheckConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Total)
	assert.Equal(t, "expired_but_active", report.Discrepancies[0].Kind)
}

func TestAttemptAutoFixResyncsDivergentCoupons(t *testing.T) {
	sampler := &fakeSampler{coupons: []model.Coupon{
		sampleCoupon(1, model.CouponStatusActive),
		sampleCoupon(2, model.CouponStatusActive),
	}}
	fixer := &fakeFixer{}
	mon, _ := newTestMonitor(t, sampler, &fakeRetrier{}, fixer)

	actions, err := mon.AttemptAutoFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []resync.Kind{resync.KindCoupons}, fixer.opts.Kinds)
	assert.ElementsMatch(t, []uint64{1, 2}, fixer.opts.IDs)
	require.NotEmpty(t, actions)
	assert.Contains(t, actions[0], "reindexed 2 coupons")
}

func TestAttemptAutoFixNothingToDo(t *testing.T) {
	fixer := &fakeFixer{}
	mon, _ := newTestMonitor(t, &fakeSampler{}, &fakeRetrier{}, fixer)

	actions, err := mon.AttemptAutoFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"no discrepancies found"}, actions)
	assert.Empty(t, fixer.opts.IDs)
}

func TestCheckIntegrity(t *testing.T) {
	sampler := &fakeSampler{invalid: 2, dangling: 1}
	mon, _ := newTestMonitor(t, sampler, &fakeRetrier{}, &fakeFixer{})

	report, err := mon.CheckIntegrity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.InvalidExpiry)
	assert.Equal(t, int64(1), report.DanglingPromotionRefs)
}

func TestRetryFailedEvents(t *testing.T) {
	retrier := &fakeRetrier{failed: []model.CouponEvent{{ID: 1}, {ID: 2}, {ID: 3}}}
	mon, _ := newTestMonitor(t, &fakeSampler{}, retrier, &fakeFixer{})

	requeued, err := mon.RetryFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, requeued)
	assert.Equal(t, []uint64{1, 2, 3}, retrier.reset)
}

func TestRetryFailedEventsContinuesOnError(t *testing.T) {
	retrier := &fakeRetrier{failed: []model.CouponEvent{{ID: 1}}, err: errors.New("db down")}
	mon, _ := newTestMonitor(t, &fakeSampler{}, retrier, &fakeFixer{})

	requeued, err := mon.RetryFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, requeued)
}
