package resync

import (
	"context"
	"errors"
	"testing"

	"github.com/taesoo1298/coupon-indexer/internal/model"
	"github.com/taesoo1298/coupon-indexer/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	coupons    []model.Coupon
	promotions []model.Promotion
	users      []model.User
}

func (f *fakeSource) CouponsChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.Coupon) error) error {
	size := opts.ChunkSize
	if size <= 0 {
		size = 100
	}
	var chunk []model.Coupon
	for _, c := range f.coupons {
		if c.ID <= opts.FromID {
			continue
		}
		chunk = append(chunk, c)
		if len(chunk) == size {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = nil
		}
	}
	if len(chunk) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(chunk)
	}
	return nil
}

func (f *fakeSource) PromotionsChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.Promotion) error) error {
	if len(f.promotions) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(f.promotions)
}

func (f *fakeSource) UsersChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.User) error) error {
	if len(f.users) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(f.users)
}

type recordingIndexer struct {
	coupons    []uint64
	promotions []uint64
	users      []uint64
	failIDs    map[uint64]bool
	onCoupon   func(id uint64)
}

func (r *recordingIndexer) IndexCoupon(_ context.Context, c *model.Coupon) error {
	if r.failIDs[c.ID] {
		return errors.New("write failed")
	}
	r.coupons = append(r.coupons, c.ID)
	if r.onCoupon != nil {
		r.onCoupon(c.ID)
	}
	return nil
}

func (r *recordingIndexer) IndexPromotion(_ context.Context, p *model.Promotion) error {
	r.promotions = append(r.promotions, p.ID)
	return nil
}

func (r *recordingIndexer) IndexUser(_ context.Context, u *model.User) error {
	r.users = append(r.users, u.ID)
	return nil
}

func makeCoupons(n int) []model.Coupon {
	coupons := make([]model.Coupon, n)
	for i := range coupons {
		coupons[i] = model.Coupon{ID: uint64(i + 1)}
	}
	return coupons
}

func TestResyncAllKinds(t *testing.T) {
	source := &fakeSource{
		coupons:    makeCoupons(5),
		promotions: []model.Promotion{{ID: 1}, {ID: 2}},
		users:      []model.User{{ID: 1}},
	}
	idx := &recordingIndexer{}

	report, err := New(source, idx).Resync(context.Background(), Options{ChunkSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Coupons.Indexed)
	assert.Equal(t, 2, report.Promotions.Indexed)
	assert.Equal(t, 1, report.Users.Indexed)
	assert.False(t, report.Cancelled)
	assert.Equal(t, uint64(5), report.Coupons.LastID)
}

func TestResyncScopedToKind(t *testing.T) {
	source := &fakeSource{
		coupons:    makeCoupons(3),
		promotions: []model.Promotion{{ID: 1}},
	}
	idx := &recordingIndexer{}

	report, err := New(source, idx).Resync(context.Background(), Options{Kinds: []Kind{KindCoupons}})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Coupons.Indexed)
	assert.Equal(t, 0, report.Promotions.Indexed)
	assert.Empty(t, idx.promotions)
}

func TestResyncCountsRowFailures(t *testing.T) {
	source := &fakeSource{coupons: makeCoupons(4)}
	idx := &recordingIndexer{failIDs: map[uint64]bool{2: true}}

	report, err := New(source, idx).Resync(context.Background(), Options{Kinds: []Kind{KindCoupons}})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Coupons.Indexed)
	assert.Equal(t, 1, report.Coupons.Failed)
	assert.Equal(t, []uint64{1, 3, 4}, idx.coupons)
}

func TestResyncInterruptAndResume(t *testing.T) {
	source := &fakeSource{coupons: makeCoupons(10)}

	ctx, cancel := context.WithCancel(context.Background())
	idx := &recordingIndexer{}
	idx.onCoupon = func(id uint64) {
		if id == 4 {
			cancel()
		}
	}

	report, err := New(source, idx).Resync(ctx, Options{Kinds: []Kind{KindCoupons}, ChunkSize: 2})
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	resumeFrom := report.Coupons.LastID
	require.Equal(t, uint64(4), resumeFrom)

	idx2 := &recordingIndexer{}
	report2, err := New(source, idx2).Resync(context.Background(), Options{
		Kinds: []Kind{KindCoupons}, ChunkSize: 2, FromID: resumeFrom,
	})
	require.NoError(t, err)
	assert.False(t, report2.Cancelled)

	// Interrupted-then-resumed covers every row exactly once.
	combined := append(append([]uint64{}, idx.coupons...), idx2.coupons...)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, combined)
}
