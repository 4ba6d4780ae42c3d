package ledger

import (
	"context"
	"strconv"

	"github.com/taesoo1298/coupon-indexer/internal/model"

	"github.com/sirupsen/logrus"
)

// EventMessage is the kafka payload that nudges a dispatcher worker. It
// carries only the ledger id; workers re-read the row and re-fetch the
// entity, never trusting transported state.
type EventMessage struct {
	EventID uint64 `json:"event_id"`
}

// Enqueuer is the dispatch-trigger transport. *kafka.Producer satisfies it.
type Enqueuer interface {
	Send(ctx context.Context, topic string, key string, v any) error
}

// Logger is the write-side entry point for domain-event producers: append to
// the ledger synchronously, then nudge the dispatcher over kafka on a
// best-effort basis. If the nudge fails the poll loop picks the entry up.
type Logger struct {
	repo     *Repo
	enqueuer Enqueuer
	topic    string
}

func NewLogger(repo *Repo, enqueuer Enqueuer, topic string) *Logger {
	return &Logger{repo: repo, enqueuer: enqueuer, topic: topic}
}

func (l *Logger) LogEvent(ctx context.Context, in AppendInput) (*model.CouponEvent, error) {
	event, err := l.repo.Append(ctx, in)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_type": in.EventType,
			"entity_id":  in.EntityID,
		}).Error("Failed to append coupon event")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"event_id":    event.ID,
		"event_type":  event.EventType,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}).Info("Coupon event logged")

	if l.enqueuer != nil {
		key := strconv.FormatUint(event.EntityID, 10)
		if err := l.enqueuer.Send(ctx, l.topic, key, EventMessage{EventID: event.ID}); err != nil {
			// Not fatal: the entry is durable and the poller will find it.
			logrus.WithError(err).WithField("event_id", event.ID).
				Warn("Failed to enqueue event for dispatch, leaving to poller")
		}
	}

	return event, nil
}
