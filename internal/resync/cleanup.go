package resync

import (
	"context"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerCleaner is the slice of the ledger repo the maintenance job needs.
type LedgerCleaner interface {
	CleanupOld(ctx context.Context, cutoff time.Time) (int64, error)
}

// IndexRemover drops a coupon's index entries.
type IndexRemover interface {
	RemoveCouponFromIndex(ctx context.Context, couponID uint64) error
}

// TerminalLister finds coupons whose index entries are old enough to drop.
type TerminalLister interface {
	TerminalCouponIDs(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
}

type CleanupConfig struct {
	EventRetention  time.Duration
	TerminalAge     time.Duration
	TerminalBatch   int
	StatusRetention time.Duration
}

func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		EventRetention:  30 * 24 * time.Hour,
		TerminalAge:     7 * 24 * time.Hour,
		TerminalBatch:   1000,
		StatusRetention: 30 * 24 * time.Hour,
	}
}

// CleanupReport counts what one maintenance run removed.
type CleanupReport struct {
	EventsDeleted   int64 `json:"events_deleted"`
	IndexesRemoved  int   `json:"indexes_removed"`
	IndexFailures   int   `json:"index_failures"`
	StatusesDeleted int64 `json:"statuses_deleted"`
}

// Cleaner is the periodic maintenance job: prune old processed ledger
// entries, drop index entries for coupons long past a terminal status, and
// trim stale status rows. It never writes coupon/promotion/user rows.
type Cleaner struct {
	db       *gorm.DB
	ledger   LedgerCleaner
	entities TerminalLister
	remover  IndexRemover
	conf     CleanupConfig
}

func NewCleaner(db *gorm.DB, ledger LedgerCleaner, entities TerminalLister, remover IndexRemover, conf CleanupConfig) *Cleaner {
	if conf.TerminalBatch <= 0 {
		conf.TerminalBatch = 1000
	}
	return &Cleaner{db: db, ledger: ledger, entities: entities, remover: remover, conf: conf}
}

func (c *Cleaner) Run(ctx context.Context) (*CleanupReport, error) {
	report := &CleanupReport{}

	deleted, err := c.ledger.CleanupOld(ctx, time.Now().Add(-c.conf.EventRetention))
	if err != nil {
		logrus.WithError(err).Error("Failed to prune processed events")
	} else {
		report.EventsDeleted = deleted
	}

	cutoff := time.Now().Add(-c.conf.TerminalAge)
	ids, err := c.entities.TerminalCouponIDs(ctx, cutoff, c.conf.TerminalBatch)
	if err != nil {
		logrus.WithError(err).Error("Failed to list terminal coupons")
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := c.remover.RemoveCouponFromIndex(ctx, id); err != nil {
			report.IndexFailures++
			logrus.WithError(err).WithField("coupon_id", id).Error("Failed to remove coupon index")
			continue
		}
		report.IndexesRemoved++
	}

	statusCutoff := time.Now().Add(-c.conf.StatusRetention)
	res := c.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.IndexStatusCompleted, statusCutoff).
		Delete(&model.CouponIndexStatus{})
	if res.Error != nil {
		logrus.WithError(res.Error).Error("Failed to trim index status rows")
	} else {
		report.StatusesDeleted = res.RowsAffected
	}

	logrus.WithFields(logrus.Fields{
		"events_deleted":   report.EventsDeleted,
		"indexes_removed":  report.IndexesRemoved,
		"statuses_deleted": report.StatusesDeleted,
	}).Info("Maintenance cleanup finished")
	return report, nil
}
