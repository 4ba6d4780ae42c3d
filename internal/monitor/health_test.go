package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeCounter struct {
	pending int64
	failed  int64
	recent  int64
}

func (f fakeCounter) CountPending(context.Context) (int64, error) { return f.pending, nil }
func (f fakeCounter) CountFailed(context.Context) (int64, error)  { return f.failed, nil }
func (f fakeCounter) CountSince(context.Context, time.Time) (int64, error) {
	return f.recent, nil
}

type fakeSource struct {
	coupons          int64
	activeCoupons    int64
	promotions       int64
	activePromotions int64
	err              error
}

func (f fakeSource) CountCoupons(context.Context) (int64, error) { return f.coupons, f.err }
func (f fakeSource) CountActiveCoupons(context.Context) (int64, error) {
	return f.activeCoupons, f.err
}
func (f fakeSource) CountPromotions(context.Context) (int64, error) { return f.promotions, f.err }
func (f fakeSource) CountActivePromotions(context.Context) (int64, error) {
	return f.activePromotions, f.err
}

func newHealthDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func expectStatusCounts(mock sqlmock.Sqlmock, total, failed int64) {
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `coupon_index_status`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(total))
	if total > 0 {
		mock.ExpectQuery("SELECT count\\(\\*\\) FROM `coupon_index_status`").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(failed))
	}
}

func findCheck(t *testing.T, report *HealthReport, name string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not found", name)
	return Check{}
}

func TestHealthAllHealthy(t *testing.T) {
	db, mock := newHealthDB(t)
	expectStatusCounts(mock, 100, 0)

	h := NewHealth(db, fakePinger{}, fakePinger{}, fakeCounter{}, fakeSource{}, DefaultHealthThresholds())
	report := h.Check(context.Background())

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 5)
}

func TestHealthBacklogWarning(t *testing.T) {
	db, mock := newHealthDB(t)
	expectStatusCounts(mock, 0, 0)

	h := NewHealth(db, fakePinger{}, fakePinger{}, fakeCounter{pending: 500}, fakeSource{}, DefaultHealthThresholds())
	report := h.Check(context.Background())

	assert.Equal(t, StatusWarning, report.Status)
	assert.Equal(t, StatusWarning, findCheck(t, report, "event_backlog").Status)
}

func TestHealthPingFailureIsCritical(t *testing.T) {
	db, mock := newHealthDB(t)
	expectStatusCounts(mock, 0, 0)

	h := NewHealth(db, fakePinger{err: errors.New("connection refused")}, fakePinger{}, fakeCounter{}, fakeSource{}, DefaultHealthThresholds())
	report := h.Check(context.Background())

	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, StatusCritical, findCheck(t, report, "database").Status)
	assert.Equal(t, StatusHealthy, findCheck(t, report, "index_store").Status)
}

func TestHealthWorstOfAggregation(t *testing.T) {
	db, mock := newHealthDB(t)
	// 30% failure rate in the window: critical outranks the backlog warning.
	expectStatusCounts(mock, 10, 3)

	h := NewHealth(db, fakePinger{}, fakePinger{}, fakeCounter{pending: 200, failed: 5}, fakeSource{}, DefaultHealthThresholds())
	report := h.Check(context.Background())

	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, StatusWarning, findCheck(t, report, "event_backlog").Status)
	assert.Equal(t, StatusWarning, findCheck(t, report, "failed_events").Status)
	assert.Equal(t, StatusCritical, findCheck(t, report, "index_failure_rate").Status)
}

func TestMetricsSnapshot(t *testing.T) {
	db, _ := newHealthDB(t)
	source := fakeSource{coupons: 1000, activeCoupons: 800, promotions: 40, activePromotions: 12}
	counter := fakeCounter{pending: 5, failed: 2, recent: 300}

	h := NewHealth(db, fakePinger{}, fakePinger{}, counter, source, DefaultHealthThresholds())
	m, err := h.Metrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1000), m.Coupons)
	assert.Equal(t, int64(800), m.ActiveCoupons)
	assert.Equal(t, int64(40), m.Promotions)
	assert.Equal(t, int64(12), m.ActivePromotions)
	assert.Equal(t, int64(300), m.EventsLast24h)
	assert.Equal(t, int64(5), m.PendingEvents)
	assert.Equal(t, int64(2), m.FailedEvents)
	assert.False(t, m.CollectedAt.IsZero())
}

func TestMetricsSurfacesSourceError(t *testing.T) {
	db, _ := newHealthDB(t)
	h := NewHealth(db, fakePinger{}, fakePinger{}, fakeCounter{}, fakeSource{err: errors.New("table gone")}, DefaultHealthThresholds())

	_, err := h.Metrics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count coupons")
}
