package repo

import (
	"context"
	"errors"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"gorm.io/gorm"
)

// Entities is read-only access to the source-of-truth records. This core
// never writes coupon/promotion/user rows; mutations happen upstream and
// reach us through the ledger.
type Entities struct {
	db *gorm.DB
}

func NewEntities(db *gorm.DB) *Entities {
	return &Entities{db: db}
}

// CouponByID returns the coupon with its promotion and user preloaded, or
// (nil, nil) when the row no longer exists.
func (r *Entities) CouponByID(ctx context.Context, id uint64) (*model.Coupon, error) {
	var coupon model.Coupon
	err := r.db.WithContext(ctx).Preload("Promotion").Preload("User").First(&coupon, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *Entities) PromotionByID(ctx context.Context, id uint64) (*model.Promotion, error) {
	var promotion model.Promotion
	err := r.db.WithContext(ctx).First(&promotion, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &promotion, nil
}

func (r *Entities) UserByID(ctx context.Context, id uint64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Preload("UserLevel").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ChunkOptions bound a chunked scan. FromID resumes a previous run; IDs
// restricts the scan to an explicit set.
type ChunkOptions struct {
	ChunkSize int
	FromID    uint64
	IDs       []uint64
}

func (o ChunkOptions) size() int {
	if o.ChunkSize <= 0 {
		return 100
	}
	return o.ChunkSize
}

// CouponsChunked walks all coupons in primary-key order, keyset-paginated so
// a chunk never rereads rows an earlier chunk saw. fn errors abort the scan;
// ctx is checked at chunk boundaries.
func (r *Entities) CouponsChunked(ctx context.Context, opts ChunkOptions, fn func([]model.Coupon) error) error {
	lastID := opts.FromID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk []model.Coupon
		q := r.db.WithContext(ctx).Preload("Promotion").Preload("User").
			Where("id > ?", lastID).Order("id").Limit(opts.size())
		if len(opts.IDs) > 0 {
			q = q.Where("id IN ?", opts.IDs)
		}
		if err := q.Find(&chunk).Error; err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

func (r *Entities) PromotionsChunked(ctx context.Context, opts ChunkOptions, fn func([]model.Promotion) error) error {
	lastID := opts.FromID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk []model.Promotion
		q := r.db.WithContext(ctx).Where("id > ?", lastID).Order("id").Limit(opts.size())
		if len(opts.IDs) > 0 {
			q = q.Where("id IN ?", opts.IDs)
		}
		if err := q.Find(&chunk).Error; err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

func (r *Entities) UsersChunked(ctx context.Context, opts ChunkOptions, fn func([]model.User) error) error {
	lastID := opts.FromID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk []model.User
		q := r.db.WithContext(ctx).Preload("UserLevel").
			Where("id > ?", lastID).Order("id").Limit(opts.size())
		if len(opts.IDs) > 0 {
			q = q.Where("id IN ?", opts.IDs)
		}
		if err := q.Find(&chunk).Error; err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

// CouponsForPromotion feeds the dispatcher's fan-out reindex after a
// promotion state change.
func (r *Entities) CouponsForPromotion(ctx context.Context, promotionID uint64, chunkSize int, fn func([]model.Coupon) error) error {
	lastID := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk []model.Coupon
		err := r.db.WithContext(ctx).Preload("Promotion").Preload("User").
			Where("promotion_id = ? AND id > ?", promotionID, lastID).
			Order("id").Limit(chunkSize).Find(&chunk).Error
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

func (r *Entities) CouponsForUser(ctx context.Context, userID uint64, chunkSize int, fn func([]model.Coupon) error) error {
	lastID := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var chunk []model.Coupon
		err := r.db.WithContext(ctx).Preload("Promotion").Preload("User").
			Where("user_id = ? AND id > ?", userID, lastID).
			Order("id").Limit(chunkSize).Find(&chunk).Error
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(chunk); err != nil {
			return err
		}
		lastID = chunk[len(chunk)-1].ID
	}
}

// SampleCoupons returns up to limit coupons for the consistency check.
func (r *Entities) SampleCoupons(ctx context.Context, limit int) ([]model.Coupon, error) {
	var coupons []model.Coupon
	err := r.db.WithContext(ctx).Limit(limit).Find(&coupons).Error
	return coupons, err
}

// CountInvalidExpiry counts coupons whose validity window is inverted.
func (r *Entities) CountInvalidExpiry(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("expires_at < issued_at").Count(&n).Error
	return n, err
}

// CountDanglingPromotionRefs counts coupons pointing at promotions that no
// longer exist.
func (r *Entities) CountDanglingPromotionRefs(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("NOT EXISTS (SELECT 1 FROM promotions WHERE promotions.id = coupons.promotion_id)").
		Count(&n).Error
	return n, err
}

// TerminalCouponIDs lists coupons that have been used/expired/revoked for
// longer than the cutoff. Their index entries are eligible for removal.
func (r *Entities) TerminalCouponIDs(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("status IN ? AND updated_at < ?",
			[]string{model.CouponStatusUsed, model.CouponStatusExpired, model.CouponStatusRevoked}, cutoff).
		Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// CountCoupons and friends feed the health metrics.
func (r *Entities) CountCoupons(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Coupon{}).Count(&n).Error
	return n, err
}

func (r *Entities) CountActiveCoupons(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Coupon{}).
		Where("status = ?", model.CouponStatusActive).Count(&n).Error
	return n, err
}

func (r *Entities) CountPromotions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Promotion{}).Count(&n).Error
	return n, err
}

func (r *Entities) CountActivePromotions(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Promotion{}).
		Where("is_active = ?", true).Count(&n).Error
	return n, err
}

// Ping verifies database connectivity for the health check.
func (r *Entities) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
