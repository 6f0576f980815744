package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legatus-hq/legatus/pkg/models"
	"github.com/legatus-hq/legatus/pkg/store"
	"github.com/legatus-hq/legatus/test/util"
)

func TestPubSubRoundTrip(t *testing.T) {
	client := util.SetupTestRedis(t)
	pubsub := store.NewPubSub(client)
	ctx := context.Background()

	sub, err := pubsub.Subscribe(ctx, store.ChannelAgent)
	require.NoError(t, err)
	defer sub.Close()

	sent := models.NewMessage(models.MessageTypeTaskComplete, "task_ab12cd34", "dev_11223344", map[string]any{
		"result": `{"summary": "done"}`,
		"cost":   0.42,
	})
	require.NoError(t, pubsub.Publish(ctx, store.ChannelAgent, sent))

	select {
	case got := <-sub.C:
		require.NotNil(t, got)
		assert.Equal(t, models.MessageTypeTaskComplete, got.Type)
		assert.Equal(t, "task_ab12cd34", got.TaskID)
		assert.Equal(t, "dev_11223344", got.AgentID)
		cost, ok := got.DataFloat("cost")
		assert.True(t, ok)
		assert.InDelta(t, 0.42, cost, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPubSubSkipsMalformedPayloads(t *testing.T) {
	client := util.SetupTestRedis(t)
	pubsub := store.NewPubSub(client)
	ctx := context.Background()

	sub, err := pubsub.Subscribe(ctx, store.ChannelAgent)
	require.NoError(t, err)
	defer sub.Close()

	// Raw garbage straight through Redis, then a valid message.
	require.NoError(t, client.Redis().Publish(ctx, store.ChannelAgent, "not json").Err())
	require.NoError(t, pubsub.Publish(ctx, store.ChannelAgent,
		models.NewMessage(models.MessageTypeLogEntry, "", "dev_11223344", map[string]any{"message": "hi"})))

	select {
	case got := <-sub.C:
		assert.Equal(t, models.MessageTypeLogEntry, got.Type, "garbage skipped, valid message delivered")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestPubSubChannelsAreIsolated(t *testing.T) {
	client := util.SetupTestRedis(t)
	pubsub := store.NewPubSub(client)
	ctx := context.Background()

	agentSub, err := pubsub.Subscribe(ctx, store.ChannelAgent)
	require.NoError(t, err)
	defer agentSub.Close()

	require.NoError(t, pubsub.Publish(ctx, store.ChannelCLI,
		models.NewMessage(models.MessageTypeStatusUpdate, "", "", nil)))
	require.NoError(t, pubsub.Publish(ctx, store.ChannelAgent,
		models.NewMessage(models.MessageTypeTaskFailed, "task_a", "", nil)))

	select {
	case got := <-agentSub.C:
		assert.Equal(t, models.MessageTypeTaskFailed, got.Type, "only the agent channel message arrives")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscriptionClose(t *testing.T) {
	client := util.SetupTestRedis(t)
	pubsub := store.NewPubSub(client)

	sub, err := pubsub.Subscribe(context.Background(), store.ChannelOrchestrator)
	require.NoError(t, err)

	sub.Close()

	_, open := <-sub.C
	assert.False(t, open, "channel closed after Close")
}
