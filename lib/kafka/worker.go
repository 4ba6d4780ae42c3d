package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Message[T any] struct {
	Topic   string
	Value   T
	Headers map[string]string
	Key     string
	Raw     kafka.Message
}

type Handler[T any] func(ctx context.Context, msg Message[T]) error

// Worker is a consumer-group reader that decodes each message into T and
// hands it to the handler. Offsets are committed only after the handler
// returns nil, so a failed message is redelivered by the group.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Worker[T any] struct {
	r         reader
	sem       chan struct{}
	unmarshal func([]byte, any) error
	handle    Handler[T]
}

func NewWorker[T any](group string, topics []string, concurrency int, handler Handler[T]) *Worker[T] {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     KafkaConfig.Brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    1e3,
		MaxBytes:    10e6,
	})
	return &Worker[T]{r: r, sem: make(chan struct{}, concurrency), unmarshal: json.Unmarshal, handle: handler}
}

func (w *Worker[T]) Run(ctx context.Context) error {
	for {
		m, err := w.r.FetchMessage(ctx)
		if err != nil {
			return err
		}
		w.sem <- struct{}{}
		go func(m kafka.Message) {
			defer func() { <-w.sem }()
			var val T
			if err := w.unmarshal(m.Value, &val); err != nil {
				logrus.WithError(err).WithField("topic", m.Topic).Warn("Dropping undecodable kafka message")
				_ = w.r.CommitMessages(ctx, m)
				return
			}
			h := map[string]string{}
			for _, x := range m.Headers {
				h[string(x.Key)] = string(x.Value)
			}
			err := w.handle(ctx, Message[T]{
				Topic:   m.Topic,
				Value:   val,
				Key:     string(m.Key),
				Headers: h,
				Raw:     m,
			})
			if err != nil {
				logrus.WithError(err).Error("handle kafka failed")
			} else {
				_ = w.r.CommitMessages(ctx, m)
			}
		}(m)
	}
}

func (w *Worker[T]) Close() error { return w.r.Close() }
