package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redisClient returns a client for REDIS_ADDR or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamSubscriberAcksHandledMessages(t *testing.T) {
	client := redisClient(t)
	stream := fmt.Sprintf("test.events.%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), stream, DeadLetterStream(stream)) })

	var received atomic.Int32
	sub := NewStreamSubscriber(client, SubscriberConfig{
		Group:         "g",
		Consumer:      "c1",
		Stream:        stream,
		BlockDuration: 100 * time.Millisecond,
		Handler: func(ctx context.Context, event Event) error {
			received.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Start(ctx) }()

	pub := NewStreamPublisher(client)
	require.NoError(t, pub.Publish(ctx, stream, testEvent(t, "evt-1")))

	require.Eventually(t, func() bool { return received.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, stream, "g").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStreamSubscriberDeadLettersAfterMaxDeliveries(t *testing.T) {
	client := redisClient(t)
	stream := fmt.Sprintf("test.events.%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), stream, DeadLetterStream(stream)) })

	var attempts atomic.Int32
	sub := NewStreamSubscriber(client, SubscriberConfig{
		Group:         "g",
		Consumer:      "c1",
		Stream:        stream,
		BlockDuration: 50 * time.Millisecond,
		ClaimIdle:     100 * time.Millisecond,
		MaxDeliveries: 2,
		Handler: func(ctx context.Context, event Event) error {
			attempts.Add(1)
			return errors.New("store unavailable")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Start(ctx) }()

	require.NoError(t, NewStreamPublisher(client).Publish(ctx, stream, testEvent(t, "evt-2")))

	require.Eventually(t, func() bool {
		n, err := client.XLen(ctx, DeadLetterStream(stream)).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}
