package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSendReceiveDelete(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, `{"id":"a"}`))
	require.NoError(t, q.Send(ctx, `{"id":"b"}`))

	messages, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, 1, messages[0].Attempt)

	for _, msg := range messages {
		require.NoError(t, q.Delete(ctx, msg.ReceiptHandle))
	}

	messages, err = q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMemoryQueueReleaseIncrementsAttempt(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "task"))

	messages, err := q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NoError(t, q.Release(ctx, messages[0].ReceiptHandle))

	redelivered, err := q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, messages[0].ID, redelivered[0].ID)
	assert.Equal(t, 2, redelivered[0].Attempt)
}

func TestMemoryQueueVisibilityTimeoutRedelivers(t *testing.T) {
	q := NewMemoryQueue(8).WithVisibilityTimeout(20 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "task"))

	messages, err := q.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	// Do not ack; the visibility timer should requeue it.

	redelivered, err := q.Receive(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, 2, redelivered[0].Attempt)
}

func TestTaskRoundTrip(t *testing.T) {
	task, body, err := EncodeTask(Task{MessageID: "m1", ChatID: "c1", Lane: LaneManager, Channel: "whatsapp"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)

	decoded, err := DecodeTask(body)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask("{not json")
	require.Error(t, err)
}
