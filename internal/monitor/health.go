package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"gorm.io/gorm"
)

// Health statuses, ordered from best to worst.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

var statusRank = map[string]int{StatusHealthy: 0, StatusWarning: 1, StatusCritical: 2}

// Check is one named probe result.
type Check struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthReport aggregates all probes; Status is the worst individual result.
type HealthReport struct {
	Status    string    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthThresholds struct {
	PendingWarning  int64
	PendingCritical int64
	FailedWarning   int64
	FailedCritical  int64
	FailureRateWarn float64
	FailureRateCrit float64
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		PendingWarning:  100,
		PendingCritical: 1000,
		FailedWarning:   1,
		FailedCritical:  50,
		FailureRateWarn: 0.05,
		FailureRateCrit: 0.20,
	}
}

// Pinger is any dependency with a liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventCounter is the ledger slice the health check and metrics read.
type EventCounter interface {
	CountPending(ctx context.Context) (int64, error)
	CountFailed(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// SourceCounter is the entity-table surface behind the metrics snapshot.
// *repo.Entities satisfies it.
type SourceCounter interface {
	CountCoupons(ctx context.Context) (int64, error)
	CountActiveCoupons(ctx context.Context) (int64, error)
	CountPromotions(ctx context.Context) (int64, error)
	CountActivePromotions(ctx context.Context) (int64, error)
}

// Health runs the operational probes: connectivity, queue backlog, and
// index write failure rate. It also serves the metrics snapshot.
type Health struct {
	db         *gorm.DB
	dbPing     Pinger
	indexPing  Pinger
	events     EventCounter
	source     SourceCounter
	thresholds HealthThresholds
}

func NewHealth(db *gorm.DB, dbPing, indexPing Pinger, events EventCounter, source SourceCounter, thresholds HealthThresholds) *Health {
	return &Health{db: db, dbPing: dbPing, indexPing: indexPing, events: events, source: source, thresholds: thresholds}
}

// Metrics is a point-in-time snapshot of the source tables and the ledger.
type Metrics struct {
	Coupons          int64     `json:"coupons"`
	ActiveCoupons    int64     `json:"active_coupons"`
	Promotions       int64     `json:"promotions"`
	ActivePromotions int64     `json:"active_promotions"`
	EventsLast24h    int64     `json:"events_last_24h"`
	PendingEvents    int64     `json:"pending_events"`
	FailedEvents     int64     `json:"failed_events"`
	CollectedAt      time.Time `json:"collected_at"`
}

func (h *Health) Metrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{CollectedAt: time.Now().UTC()}

	var err error
	if m.Coupons, err = h.source.CountCoupons(ctx); err != nil {
		return nil, fmt.Errorf("count coupons: %w", err)
	}
	if m.ActiveCoupons, err = h.source.CountActiveCoupons(ctx); err != nil {
		return nil, fmt.Errorf("count active coupons: %w", err)
	}
	if m.Promotions, err = h.source.CountPromotions(ctx); err != nil {
		return nil, fmt.Errorf("count promotions: %w", err)
	}
	if m.ActivePromotions, err = h.source.CountActivePromotions(ctx); err != nil {
		return nil, fmt.Errorf("count active promotions: %w", err)
	}
	if m.EventsLast24h, err = h.events.CountSince(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		return nil, fmt.Errorf("count recent events: %w", err)
	}
	if m.PendingEvents, err = h.events.CountPending(ctx); err != nil {
		return nil, fmt.Errorf("count pending events: %w", err)
	}
	if m.FailedEvents, err = h.events.CountFailed(ctx); err != nil {
		return nil, fmt.Errorf("count failed events: %w", err)
	}
	return m, nil
}

func (h *Health) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{Status: StatusHealthy, CheckedAt: time.Now().UTC()}

	report.add(h.checkPing(ctx, "database", h.dbPing))
	report.add(h.checkPing(ctx, "index_store", h.indexPing))
	report.add(h.checkBacklog(ctx))
	report.add(h.checkFailedEvents(ctx))
	report.add(h.checkFailureRate(ctx))
	return report
}

func (r *HealthReport) add(c Check) {
	r.Checks = append(r.Checks, c)
	if statusRank[c.Status] > statusRank[r.Status] {
		r.Status = c.Status
	}
}

func (h *Health) checkPing(ctx context.Context, name string, p Pinger) Check {
	if err := p.Ping(ctx); err != nil {
		return Check{Name: name, Status: StatusCritical, Message: err.Error()}
	}
	return Check{Name: name, Status: StatusHealthy}
}

func (h *Health) checkBacklog(ctx context.Context) Check {
	pending, err := h.events.CountPending(ctx)
	if err != nil {
		return Check{Name: "event_backlog", Status: StatusCritical, Message: err.Error()}
	}
	msg := fmt.Sprintf("%d pending events", pending)
	switch {
	case pending >= h.thresholds.PendingCritical:
		return Check{Name: "event_backlog", Status: StatusCritical, Message: msg}
	case pending >= h.thresholds.PendingWarning:
		return Check{Name: "event_backlog", Status: StatusWarning, Message: msg}
	}
	return Check{Name: "event_backlog", Status: StatusHealthy, Message: msg}
}

func (h *Health) checkFailedEvents(ctx context.Context) Check {
	failed, err := h.events.CountFailed(ctx)
	if err != nil {
		return Check{Name: "failed_events", Status: StatusCritical, Message: err.Error()}
	}
	msg := fmt.Sprintf("%d terminal-failed events", failed)
	switch {
	case failed >= h.thresholds.FailedCritical:
		return Check{Name: "failed_events", Status: StatusCritical, Message: msg}
	case failed >= h.thresholds.FailedWarning:
		return Check{Name: "failed_events", Status: StatusWarning, Message: msg}
	}
	return Check{Name: "failed_events", Status: StatusHealthy, Message: msg}
}

// checkFailureRate compares failed index-status rows against the total over
// the last day. An empty window is healthy.
func (h *Health) checkFailureRate(ctx context.Context) Check {
	since := time.Now().Add(-24 * time.Hour)

	var total, failed int64
	if err := h.db.WithContext(ctx).Model(&model.CouponIndexStatus{}).
		Where("updated_at >= ?", since).Count(&total).Error; err != nil {
		return Check{Name: "index_failure_rate", Status: StatusCritical, Message: err.Error()}
	}
	if total == 0 {
		return Check{Name: "index_failure_rate", Status: StatusHealthy, Message: "no index writes in window"}
	}
	if err := h.db.WithContext(ctx).Model(&model.CouponIndexStatus{}).
		Where("updated_at >= ? AND status = ?", since, model.IndexStatusFailed).
		Count(&failed).Error; err != nil {
		return Check{Name: "index_failure_rate", Status: StatusCritical, Message: err.Error()}
	}

	rate := float64(failed) / float64(total)
	msg := fmt.Sprintf("%.1f%% of %d writes failed", rate*100, total)
	switch {
	case rate >= h.thresholds.FailureRateCrit:
		return Check{Name: "index_failure_rate", Status: StatusCritical, Message: msg}
	case rate >= h.thresholds.FailureRateWarn:
		return Check{Name: "index_failure_rate", Status: StatusWarning, Message: msg}
	}
	return Check{Name: "index_failure_rate", Status: StatusHealthy, Message: msg}
}
