package dispatcher

import (
	"context"
	"time"

	"github.com/taesoo1298/coupon-indexer/internal/repo/ledger"
	"github.com/taesoo1298/coupon-indexer/lib/kafka"

	"github.com/sirupsen/logrus"
)

// Runner owns the two intake paths feeding the dispatcher: the kafka
// consumer for freshly logged events and the DB poller that sweeps pending
// entries the consumer missed or that are waiting on a ledger retry.
type Runner struct {
	dispatcher *Dispatcher
	ledger     Ledger

	pollInterval time.Duration
	pollBatch    int
}

func NewRunner(d *Dispatcher, l Ledger, pollInterval time.Duration, pollBatch int) *Runner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if pollBatch <= 0 {
		pollBatch = 50
	}
	return &Runner{dispatcher: d, ledger: l, pollInterval: pollInterval, pollBatch: pollBatch}
}

// NewConsumer builds the kafka worker for event messages. The handler always
// commits: retries belong to the ledger's retry_count, not to kafka
// redelivery, otherwise one failure would burn both budgets at once.
func (r *Runner) NewConsumer(group, topic string, concurrency int) *kafka.Worker[ledger.EventMessage] {
	return kafka.NewWorker(group, []string{topic}, concurrency, func(ctx context.Context, msg kafka.Message[ledger.EventMessage]) error {
		event, err := r.ledger.FindByID(ctx, msg.Value.EventID)
		if err != nil {
			logrus.WithError(err).WithField("event_id", msg.Value.EventID).Error("Failed to load event for kafka message")
			return nil
		}
		if event == nil {
			logrus.WithField("event_id", msg.Value.EventID).Warn("Kafka message references missing event")
			return nil
		}
		if err := r.dispatcher.ProcessOne(ctx, event); err != nil {
			logrus.WithError(err).WithField("event_id", event.ID).Error("Event processing failed")
		}
		return nil
	})
}

// RunPoller sweeps the ledger for pending entries on a fixed interval until
// the context is cancelled. It is the fallback path when kafka is down or an
// enqueue was lost, and the only path that picks entries back up after a
// failed run incremented retry_count.
func (r *Runner) RunPoller(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Runner) pollOnce(ctx context.Context) {
	events, err := r.ledger.ListPending(ctx, r.pollBatch)
	if err != nil {
		logrus.WithError(err).Error("Failed to list pending events")
		return
	}
	for i := range events {
		if ctx.Err() != nil {
			return
		}
		if err := r.dispatcher.ProcessOne(ctx, &events[i]); err != nil {
			logrus.WithError(err).WithField("event_id", events[i].ID).Error("Event processing failed")
		}
	}
}
