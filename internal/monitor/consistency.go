package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/indexer"
	"github.com/taesoo1298/coupon-indexer/internal/model"
	"github.com/taesoo1298/coupon-indexer/internal/resync"

	"github.com/sirupsen/logrus"
)

const maxReportedDiscrepancies = 50

// Discrepancy is one divergence between the source-of-truth and the index.
type Discrepancy struct {
	CouponID uint64 `json:"coupon_id"`
	Kind     string `json:"kind"`
	Detail   string `json:"detail"`
}

// ConsistencyReport is the outcome of one sampled check. Discrepancies is
// capped; Total carries the real count.
type ConsistencyReport struct {
	Sampled       int           `json:"sampled"`
	Total         int           `json:"total_discrepancies"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// IntegrityReport counts structural defects in the source data itself.
type IntegrityReport struct {
	InvalidExpiry         int64     `json:"invalid_expiry"`
	DanglingPromotionRefs int64     `json:"dangling_promotion_refs"`
	CheckedAt             time.Time `json:"checked_at"`
}

// EntitySampler is the source-side read surface the checks need.
// *repo.Entities satisfies it.
type EntitySampler interface {
	SampleCoupons(ctx context.Context, limit int) ([]model.Coupon, error)
	CountInvalidExpiry(ctx context.Context) (int64, error)
	CountDanglingPromotionRefs(ctx context.Context) (int64, error)
}

// EventRetrier is the ledger slice behind reset-and-requeue.
type EventRetrier interface {
	ListFailed(ctx context.Context, limit int) ([]model.CouponEvent, error)
	ResetForRetry(ctx context.Context, event *model.CouponEvent) error
}

// Fixer repairs divergent rows. *resync.Resyncer satisfies it.
type Fixer interface {
	Resync(ctx context.Context, opts resync.Options) (*resync.Report, error)
}

// Monitor runs consistency and integrity checks and can repair what it
// finds by re-driving the resyncer over the divergent rows.
type Monitor struct {
	entities   EntitySampler
	events     EventRetrier
	store      *indexer.Store
	keys       indexer.Keys
	resyncer   Fixer
	sampleSize int
}

func New(entities EntitySampler, events EventRetrier, store *indexer.Store, keys indexer.Keys, resyncer Fixer, sampleSize int) *Monitor {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &Monitor{entities: entities, events: events, store: store, keys: keys, resyncer: resyncer, sampleSize: sampleSize}
}

// CheckConsistency samples coupons and compares each against its projection
// hash. Missing hashes and stale status fields are the divergences the index
// can actually produce; everything else in the hash derives from the same
// row write.
func (m *Monitor) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	coupons, err := m.entities.SampleCoupons(ctx, m.sampleSize)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{Sampled: len(coupons), CheckedAt: time.Now().UTC()}
	for i := range coupons {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d := m.checkCoupon(ctx, &coupons[i])
		if d == nil {
			continue
		}
		report.Total++
		if len(report.Discrepancies) < maxReportedDiscrepancies {
			report.Discrepancies = append(report.Discrepancies, *d)
		}
	}

	if report.Total > 0 {
		logrus.WithFields(logrus.Fields{
			"sampled":       report.Sampled,
			"discrepancies": report.Total,
		}).Warn("Index consistency check found divergences")
	}
	return report, nil
}

func (m *Monitor) checkCoupon(ctx context.Context, coupon *model.Coupon) *Discrepancy {
	hash, err := m.store.ReadHash(ctx, m.keys.Coupon(coupon.ID))
	if err != nil {
		return &Discrepancy{CouponID: coupon.ID, Kind: "read_error", Detail: err.Error()}
	}
	if len(hash) == 0 {
		return &Discrepancy{CouponID: coupon.ID, Kind: "missing", Detail: "no index entry"}
	}
	if hash["status"] != coupon.Status {
		return &Discrepancy{
			CouponID: coupon.ID,
			Kind:     "stale_status",
			Detail:   fmt.Sprintf("index %q, source %q", hash["status"], coupon.Status),
		}
	}
	if coupon.Status == model.CouponStatusActive && coupon.IsExpired() {
		return &Discrepancy{
			CouponID: coupon.ID,
			Kind:     "expired_but_active",
			Detail:   fmt.Sprintf("expired %s, source row still active", coupon.ExpiresAt.Format(time.RFC3339)),
		}
	}
	if coupon.IsUsable() {
		return m.checkMemberships(ctx, coupon)
	}
	return nil
}

// checkMemberships verifies a usable coupon sits in its status partitions.
// The hash and the sets are written separately, so a partial failure can
// leave the hash present but the memberships missing.
func (m *Monitor) checkMemberships(ctx context.Context, coupon *model.Coupon) *Discrepancy {
	ok, err := m.store.IsSetMember(ctx, m.keys.PromotionCoupons(coupon.PromotionID, coupon.Status), coupon.ID)
	if err != nil {
		return &Discrepancy{CouponID: coupon.ID, Kind: "read_error", Detail: err.Error()}
	}
	if !ok {
		return &Discrepancy{
			CouponID: coupon.ID,
			Kind:     "missing_membership",
			Detail:   fmt.Sprintf("absent from promotion %d %s partition", coupon.PromotionID, coupon.Status),
		}
	}
	if coupon.UserID == nil {
		return nil
	}
	ok, err = m.store.IsSetMember(ctx, m.keys.UserCoupons(*coupon.UserID, coupon.Status), coupon.ID)
	if err != nil {
		return &Discrepancy{CouponID: coupon.ID, Kind: "read_error", Detail: err.Error()}
	}
	if !ok {
		return &Discrepancy{
			CouponID: coupon.ID,
			Kind:     "missing_membership",
			Detail:   fmt.Sprintf("absent from user %d %s partition", *coupon.UserID, coupon.Status),
		}
	}
	return nil
}

// CheckIntegrity looks for defects in the source rows themselves. These are
// upstream bugs; the index cannot repair them, only report them.
func (m *Monitor) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	invalid, err := m.entities.CountInvalidExpiry(ctx)
	if err != nil {
		return nil, err
	}
	dangling, err := m.entities.CountDanglingPromotionRefs(ctx)
	if err != nil {
		return nil, err
	}
	return &IntegrityReport{
		InvalidExpiry:         invalid,
		DanglingPromotionRefs: dangling,
		CheckedAt:             time.Now().UTC(),
	}, nil
}

// AttemptAutoFix re-runs the consistency check and reindexes exactly the
// divergent coupons. Returns a human-readable action log.
func (m *Monitor) AttemptAutoFix(ctx context.Context) ([]string, error) {
	report, err := m.CheckConsistency(ctx)
	if err != nil {
		return nil, err
	}
	if report.Total == 0 {
		return []string{"no discrepancies found"}, nil
	}

	ids := make([]uint64, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		ids = append(ids, d.CouponID)
	}

	fixed, err := m.resyncer.Resync(ctx, resync.Options{Kinds: []resync.Kind{resync.KindCoupons}, IDs: ids})
	if err != nil {
		return nil, err
	}

	actions := []string{
		fmt.Sprintf("reindexed %d coupons", fixed.Coupons.Indexed),
	}
	if fixed.Coupons.Failed > 0 {
		actions = append(actions, fmt.Sprintf("%d coupons failed to reindex", fixed.Coupons.Failed))
	}
	if report.Total > len(ids) {
		actions = append(actions, fmt.Sprintf("%d further discrepancies beyond the report cap, rerun to continue", report.Total-len(ids)))
	}
	return actions, nil
}

// RetryFailedEvents resets terminal-failed ledger entries so the poller
// picks them up again. Returns how many were requeued.
func (m *Monitor) RetryFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := m.events.ListFailed(ctx, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for i := range events {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}
		if err := m.events.ResetForRetry(ctx, &events[i]); err != nil {
			logrus.WithError(err).WithField("event_id", events[i].ID).Error("Failed to reset event for retry")
			continue
		}
		requeued++
	}
	logrus.WithField("requeued", requeued).Info("Reset failed events for retry")
	return requeued, nil
}
