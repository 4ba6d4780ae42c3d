package fanout

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPubSub(t *testing.T) (*PubSub, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, Config{Channel: "coupon_events", ReconnectAttempts: 1, ReconnectDelay: 10 * time.Millisecond}), client
}

func TestPublishWithoutSubscribers(t *testing.T) {
	ps, _ := newTestPubSub(t)

	n, err := ps.Publish(context.Background(), "coupon_issued", map[string]any{"entity_id": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPublishReachesSubscriber(t *testing.T) {
	ps, client := newTestPubSub(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "coupon_events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	n, err := ps.Publish(ctx, "coupon_used", map[string]any{"entity_id": 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case msg := <-ch:
		var env Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, "coupon_used", env.EventType)
		assert.NotEmpty(t, env.MessageID)
		assert.False(t, env.PublishedAt.IsZero())

		var data map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, float64(10), data["entity_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSubscribeSkipsMalformedMessages(t *testing.T) {
	ps, client := newTestPubSub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 2)
	go func() {
		_ = ps.Subscribe(ctx, func(_ context.Context, env Envelope) {
			received <- env
		})
	}()

	// Give the subscriber time to attach.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "coupon_events").Result()
		return err == nil && n["coupon_events"] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, "coupon_events", "not json").Err())
	require.NoError(t, client.Publish(ctx, "coupon_events", `{"data":{}}`).Err())
	_, err := ps.Publish(ctx, "coupon_expired", map[string]any{"entity_id": 3})
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, "coupon_expired", env.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("valid message not delivered")
	}
	assert.Empty(t, received)
}

func TestChannelInfo(t *testing.T) {
	ps, client := newTestPubSub(t)
	ctx := context.Background()

	info, err := ps.ChannelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info["subscribers"])
	assert.Equal(t, false, info["degraded"])

	sub := client.Subscribe(ctx, "coupon_events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	info, err = ps.ChannelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info["subscribers"])
}
