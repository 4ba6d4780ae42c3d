package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu       sync.Mutex
	queue    []kafka.Message
	commits  []kafka.Message
	fetchErr error
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return kafka.Message{}, f.fetchErr
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, msgs...)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committedOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	offsets := make([]int64, 0, len(f.commits))
	for _, m := range f.commits {
		offsets = append(offsets, m.Offset)
	}
	return offsets
}

type testEvent struct {
	ID uint64 `json:"id"`
}

func msgWithOffset(t *testing.T, offset int64, v any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: "events", Offset: offset, Value: b}
}

func TestWorkerCommitsOnlyHandledMessages(t *testing.T) {
	stop := errors.New("out of messages")
	r := &fakeReader{
		fetchErr: stop,
		queue: []kafka.Message{
			msgWithOffset(t, 1, testEvent{ID: 1}),
			{Topic: "events", Offset: 2, Value: []byte("{not json")},
			msgWithOffset(t, 3, testEvent{ID: 3}),
		},
	}

	var mu sync.Mutex
	var handled []uint64
	w := &Worker[testEvent]{
		r:         r,
		sem:       make(chan struct{}, 1),
		unmarshal: json.Unmarshal,
		handle: func(ctx context.Context, msg Message[testEvent]) error {
			mu.Lock()
			handled = append(handled, msg.Value.ID)
			mu.Unlock()
			if msg.Value.ID == 3 {
				return errors.New("boom")
			}
			return nil
		},
	}

	err := w.Run(context.Background())
	require.ErrorIs(t, err, stop)

	// The decodable messages reach the handler. The offset of the message
	// whose handler failed is never committed, so the group redelivers it;
	// the undecodable one is committed and dropped.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 2 && len(r.committedOffsets()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []uint64{1, 3}, handled)
	mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2}, r.committedOffsets())
}
