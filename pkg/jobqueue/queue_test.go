package jobqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewQueue(client, 1), mr
}

func TestEnqueueStoresJobAndPushesID(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, TopicRenew, RenewPayload{SubscriptionID: 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ids, err := mr.List(jobQueueKey)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	job, err := q.loadJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TopicRenew, job.Topic)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, defaultMaxRetries, job.MaxRetries)

	var payload RenewPayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, uint(42), payload.SubscriptionID)
}

func TestProcessOneDeliversToHandler(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	var got *Job
	q.Register(TopicPaymentRetry, func(ctx context.Context, job *Job) error {
		got = job
		return nil
	})

	id, err := q.Enqueue(ctx, TopicPaymentRetry, PaymentRetryPayload{PaymentID: 7})
	require.NoError(t, err)

	processed, err := q.processOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	var payload PaymentRetryPayload
	require.NoError(t, got.DecodePayload(&payload))
	assert.Equal(t, uint(7), payload.PaymentID)

	// Nothing left pending or in flight.
	assert.False(t, mr.Exists(jobQueueKey))
	assert.False(t, mr.Exists(jobProcessingKey))

	job, err := q.loadJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
}

func TestProcessOneEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)

	processed, err := q.processOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestFailedJobIsRequeued(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	q.Register(TopicRenew, func(ctx context.Context, job *Job) error {
		calls++
		return errors.New("store unavailable")
	})

	id, err := q.Enqueue(ctx, TopicRenew, RenewPayload{SubscriptionID: 1})
	require.NoError(t, err)

	processed, err := q.processOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, calls)

	// Back on the pending list with the attempt recorded.
	ids, err := mr.List(jobQueueKey)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)
	assert.False(t, mr.Exists(jobProcessingKey))

	job, err := q.loadJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, "store unavailable", job.ErrorMsg)
}

func TestJobFailsPermanentlyAfterRetryBudget(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	q.Register(TopicRenew, func(ctx context.Context, job *Job) error {
		return errors.New("still broken")
	})

	id, err := q.Enqueue(ctx, TopicRenew, RenewPayload{SubscriptionID: 1})
	require.NoError(t, err)

	for i := 0; i < defaultMaxRetries; i++ {
		processed, err := q.processOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.False(t, mr.Exists(jobQueueKey))
	assert.False(t, mr.Exists(jobProcessingKey))

	job, err := q.loadJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, defaultMaxRetries, job.RetryCount)
}

func TestProcessOneUnknownTopic(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "no.such.topic", RenewPayload{SubscriptionID: 1})
	require.NoError(t, err)

	processed, err := q.processOne(ctx)
	require.True(t, processed)
	require.Error(t, err)

	// Dropped from the processing list rather than stuck forever.
	assert.False(t, mr.Exists(jobProcessingKey))
}
