package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Envelope is the wire shape of every broadcast message. EventType is
// required; subscribers drop anything without it.
type Envelope struct {
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"published_at"`
	MessageID   string          `json:"message_id"`
}

type Handler func(ctx context.Context, env Envelope)

type Config struct {
	Channel           string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func DefaultConfig(channel string) Config {
	return Config{Channel: channel, ReconnectAttempts: 3, ReconnectDelay: 2 * time.Second}
}

// PubSub broadcasts processed events over a redis channel. Fire-and-forget:
// delivery is at-most-once and zero subscribers is a normal outcome.
type PubSub struct {
	rdb  *redis.Client
	conf Config

	mu       sync.Mutex
	degraded bool
}

func New(rdb *redis.Client, conf Config) *PubSub {
	if conf.ReconnectAttempts <= 0 {
		conf.ReconnectAttempts = 3
	}
	if conf.ReconnectDelay <= 0 {
		conf.ReconnectDelay = 2 * time.Second
	}
	return &PubSub{rdb: rdb, conf: conf}
}

// Publish wraps data in an Envelope and broadcasts it. Returns the number of
// subscribers that received the message; zero is success.
func (p *PubSub) Publish(ctx context.Context, eventType string, data any) (int64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(Envelope{
		EventType:   eventType,
		Data:        raw,
		PublishedAt: time.Now().UTC(),
		MessageID:   uuid.NewString(),
	})
	if err != nil {
		return 0, err
	}

	n, err := p.rdb.Publish(ctx, p.conf.Channel, payload).Result()
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"channel":     p.conf.Channel,
		"event_type":  eventType,
		"subscribers": n,
	}).Debug("Published event notification")
	return n, nil
}

// Subscribe consumes the channel until ctx is cancelled. A handler only sees
// well-formed envelopes; malformed messages are logged and dropped so one bad
// payload cannot stall the stream. On a broken connection it retries a
// bounded number of times, then goes degraded until ForceReconnect.
func (p *PubSub) Subscribe(ctx context.Context, handler Handler) error {
	for {
		if err := p.consume(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).Warn("Subscription connection lost")
		}

		if !p.reconnect(ctx) {
			p.setDegraded(true)
			return errors.New("fanout subscription gave up reconnecting")
		}
	}
}

func (p *PubSub) consume(ctx context.Context, handler Handler) error {
	sub := p.rdb.Subscribe(ctx, p.conf.Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	p.setDegraded(false)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			p.deliver(ctx, handler, msg.Payload)
		}
	}
}

func (p *PubSub) deliver(ctx context.Context, handler Handler, payload string) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logrus.WithError(err).Warn("Dropping undecodable fanout message")
		return
	}
	if env.EventType == "" {
		logrus.Warn("Dropping fanout message without event_type")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": env.EventType,
				"message_id": env.MessageID,
				"panic":      r,
			}).Error("Fanout handler panicked")
		}
	}()
	handler(ctx, env)
}

func (p *PubSub) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= p.conf.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.conf.ReconnectDelay):
		}
		if err := p.rdb.Ping(ctx).Err(); err == nil {
			logrus.WithField("attempt", attempt).Info("Fanout reconnected")
			return true
		}
		logrus.WithField("attempt", attempt).Warn("Fanout reconnect attempt failed")
	}
	return false
}

// Degraded reports whether the subscriber exhausted its reconnect budget and
// is no longer consuming.
func (p *PubSub) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// ForceReconnect clears the degraded flag so a fresh Subscribe can be
// started by the caller.
func (p *PubSub) ForceReconnect() {
	p.setDegraded(false)
}

func (p *PubSub) setDegraded(v bool) {
	p.mu.Lock()
	p.degraded = v
	p.mu.Unlock()
}

// ChannelInfo returns the current subscriber count on the broadcast channel.
func (p *PubSub) ChannelInfo(ctx context.Context) (map[string]any, error) {
	counts, err := p.rdb.PubSubNumSub(ctx, p.conf.Channel).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"channel":     p.conf.Channel,
		"subscribers": counts[p.conf.Channel],
		"degraded":    p.Degraded(),
	}, nil
}
