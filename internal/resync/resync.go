package resync

import (
	"context"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"
	"github.com/taesoo1298/coupon-indexer/internal/repo"

	"github.com/sirupsen/logrus"
)

// Kind names an entity family to resync.
type Kind string

const (
	KindCoupons    Kind = "coupons"
	KindPromotions Kind = "promotions"
	KindUsers      Kind = "users"
)

// Options scope a resync run. Empty Kinds means everything. FromID resumes
// an interrupted run; IDs restricts the run to specific rows (only valid
// with a single kind).
type Options struct {
	Kinds     []Kind
	IDs       []uint64
	FromID    uint64
	ChunkSize int
}

func (o Options) wants(k Kind) bool {
	if len(o.Kinds) == 0 {
		return true
	}
	for _, want := range o.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Counters per entity family for one run.
type Counters struct {
	Indexed int    `json:"indexed"`
	Failed  int    `json:"failed"`
	LastID  uint64 `json:"last_id"`
}

// Report summarizes a resync run. When the run was cancelled, Resumable
// carries the kind and LastID to continue from.
type Report struct {
	Coupons    Counters      `json:"coupons"`
	Promotions Counters      `json:"promotions"`
	Users      Counters      `json:"users"`
	Duration   time.Duration `json:"duration"`
	Cancelled  bool          `json:"cancelled"`
}

// Indexer is the mutation-engine surface the resyncer drives.
type Indexer interface {
	IndexCoupon(ctx context.Context, coupon *model.Coupon) error
	IndexPromotion(ctx context.Context, promotion *model.Promotion) error
	IndexUser(ctx context.Context, user *model.User) error
}

// Source walks the source-of-truth in chunks. *repo.Entities satisfies it.
type Source interface {
	CouponsChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.Coupon) error) error
	PromotionsChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.Promotion) error) error
	UsersChunked(ctx context.Context, opts repo.ChunkOptions, fn func([]model.User) error) error
}

// Resyncer rebuilds index entries in bulk from the source-of-truth. Per-row
// failures are counted and logged, never abort the run; only context
// cancellation stops it early, at a chunk boundary.
type Resyncer struct {
	entities Source
	indexer  Indexer
}

func New(entities Source, indexer Indexer) *Resyncer {
	return &Resyncer{entities: entities, indexer: indexer}
}

func (s *Resyncer) Resync(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{}

	chunkOpts := repo.ChunkOptions{ChunkSize: opts.ChunkSize, FromID: opts.FromID, IDs: opts.IDs}

	if opts.wants(KindCoupons) {
		if err := s.resyncCoupons(ctx, chunkOpts, &report.Coupons); err != nil {
			report.Cancelled = true
		}
	}
	if !report.Cancelled && opts.wants(KindPromotions) {
		if err := s.resyncPromotions(ctx, chunkOpts, &report.Promotions); err != nil {
			report.Cancelled = true
		}
	}
	if !report.Cancelled && opts.wants(KindUsers) {
		if err := s.resyncUsers(ctx, chunkOpts, &report.Users); err != nil {
			report.Cancelled = true
		}
	}

	report.Duration = time.Since(start)
	logrus.WithFields(logrus.Fields{
		"coupons":    report.Coupons.Indexed,
		"promotions": report.Promotions.Indexed,
		"users":      report.Users.Indexed,
		"failed":     report.Coupons.Failed + report.Promotions.Failed + report.Users.Failed,
		"duration":   report.Duration.String(),
		"cancelled":  report.Cancelled,
	}).Info("Resync finished")
	return report, nil
}

func (s *Resyncer) resyncCoupons(ctx context.Context, opts repo.ChunkOptions, c *Counters) error {
	return s.entities.CouponsChunked(ctx, opts, func(coupons []model.Coupon) error {
		for i := range coupons {
			if err := s.indexer.IndexCoupon(ctx, &coupons[i]); err != nil {
				c.Failed++
				logrus.WithError(err).WithField("coupon_id", coupons[i].ID).Error("Resync failed for coupon")
				continue
			}
			c.Indexed++
		}
		c.LastID = coupons[len(coupons)-1].ID
		return nil
	})
}

func (s *Resyncer) resyncPromotions(ctx context.Context, opts repo.ChunkOptions, c *Counters) error {
	return s.entities.PromotionsChunked(ctx, opts, func(promotions []model.Promotion) error {
		for i := range promotions {
			if err := s.indexer.IndexPromotion(ctx, &promotions[i]); err != nil {
				c.Failed++
				logrus.WithError(err).WithField("promotion_id", promotions[i].ID).Error("Resync failed for promotion")
				continue
			}
			c.Indexed++
		}
		c.LastID = promotions[len(promotions)-1].ID
		return nil
	})
}

func (s *Resyncer) resyncUsers(ctx context.Context, opts repo.ChunkOptions, c *Counters) error {
	return s.entities.UsersChunked(ctx, opts, func(users []model.User) error {
		for i := range users {
			if err := s.indexer.IndexUser(ctx, &users[i]); err != nil {
				c.Failed++
				logrus.WithError(err).WithField("user_id", users[i].ID).Error("Resync failed for user")
				continue
			}
			c.Indexed++
		}
		c.LastID = users[len(users)-1].ID
		return nil
	})
}
