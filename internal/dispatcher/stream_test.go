package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	commonredis "github.com/mithzak/are-you-dead/common/redis"
	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestStreamDispatcher_Publishes(t *testing.T) {
	mr, client := setupTestRedis(t)
	d := NewStreamDispatcher(client, "", zap.NewNop())

	out, err := d.Send(context.Background(), testEvent("evt-1"))
	require.NoError(t, err)
	assert.Len(t, out.Delivered, 3)

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStreamRelay_DeliversAndAcks(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	var relayed []models.EscalationEvent
	next := DispatcherFunc(func(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
		relayed = append(relayed, event)
		return models.DispatchOutcome{Delivered: event.Contacts}, nil
	})
	rec := &recordingRecorder{}
	relay := NewStreamRelay(client, "", "", "", next, rec, zap.NewNop())
	relay.block = 10 * time.Millisecond
	require.NoError(t, commonredis.CreateConsumerGroup(ctx, client, DefaultStream, DefaultStreamGroup))

	_, err := NewStreamDispatcher(client, "", zap.NewNop()).Send(ctx, testEvent("evt-1"))
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, relayed, 1)
	assert.Equal(t, "evt-1", relayed[0].EventID)
	assert.Equal(t, "Jane Doe", relayed[0].UserName)

	outcome, ok := rec.Get("evt-1")
	require.True(t, ok)
	assert.Len(t, outcome.Delivered, 3)

	pending, err := client.XPending(ctx, DefaultStream, DefaultStreamGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestStreamRelay_AcksPoisonMessages(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	called := false
	next := DispatcherFunc(func(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
		called = true
		return models.DispatchOutcome{}, errors.New("unexpected")
	})
	relay := NewStreamRelay(client, "s", "g", "c", next, nil, zap.NewNop())
	relay.block = 10 * time.Millisecond
	require.NoError(t, commonredis.CreateConsumerGroup(ctx, client, "s", "g"))

	_, err := commonredis.PublishToStream(ctx, client, "s", map[string]interface{}{"data": "{not json"})
	require.NoError(t, err)

	n, err := relay.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, called)

	pending, err := client.XPending(ctx, "s", "g").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestStreamRelay_RunStopsOnCancel(t *testing.T) {
	_, client := setupTestRedis(t)
	relay := NewStreamRelay(client, "", "", "", NewLogDispatcher(zap.NewNop()), nil, zap.NewNop())
	relay.block = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
