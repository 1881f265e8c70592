package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func setup(t *testing.T) (*db.DB, *Queue, *Worker, *testClock) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	clock := &testClock{now: time.Now()}
	q := NewQueue(database)
	q.clock = clock.Now
	w := NewWorker(database, Options{Workers: 2, Lease: time.Minute}).WithClock(clock.Now)
	return database, q, w, clock
}

func TestRunOnceSuccess(t *testing.T) {
	database, q, w, _ := setup(t)
	ctx := context.Background()

	var got map[string]string
	w.Register(OutboxDeliver, func(ctx context.Context, payload []byte) error {
		return json.Unmarshal(payload, &got)
	})

	id, err := q.Enqueue(ctx, OutboxDeliver, map[string]string{"inbox": "https://remote.example/inbox"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, 1, w.RunOnce(ctx))
	assert.Equal(t, "https://remote.example/inbox", got["inbox"])

	n, err := database.CountJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryFollowsSchedule(t *testing.T) {
	database, q, w, clock := setup(t)
	ctx := context.Background()

	var calls atomic.Int32
	w.Register(InboxActivity, func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("temporary")
	})
	_, err := q.Enqueue(ctx, InboxActivity, struct{}{})
	require.NoError(t, err)

	assert.Equal(t, 1, w.RunOnce(ctx))
	// Not due before the first retry delay.
	clock.now = clock.now.Add(59 * time.Second)
	assert.Equal(t, 0, w.RunOnce(ctx))

	clock.now = clock.now.Add(2 * time.Second)
	assert.Equal(t, 1, w.RunOnce(ctx))
	assert.Equal(t, int32(2), calls.Load())

	n, err := database.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	database, q, w, clock := setup(t)
	ctx := context.Background()

	var calls atomic.Int32
	w.Register(InboxActivity, func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("always")
	})
	_, err := q.Enqueue(ctx, InboxActivity, struct{}{})
	require.NoError(t, err)

	for i := 0; i < MaxAttempts+2; i++ {
		w.RunOnce(ctx)
		clock.now = clock.now.Add(25 * time.Hour)
	}
	assert.Equal(t, int32(MaxAttempts), calls.Load())

	n, err := database.CountJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPermanentAndNotFoundAreDropped(t *testing.T) {
	for name, jobErr := range map[string]error{
		"permanent": Permanent(errors.New("bad key")),
		"not found": fmt.Errorf("status: %w", domain.ErrNotFound),
	} {
		t.Run(name, func(t *testing.T) {
			database, q, w, _ := setup(t)
			ctx := context.Background()
			w.Register(InboxActivity, func(context.Context, []byte) error { return jobErr })
			_, err := q.Enqueue(ctx, InboxActivity, struct{}{})
			require.NoError(t, err)

			w.RunOnce(ctx)
			n, err := database.CountJobs(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestUnknownJobAndPanicAreDropped(t *testing.T) {
	database, q, w, _ := setup(t)
	ctx := context.Background()
	w.Register(ActorImportOutbox, func(context.Context, []byte) error { panic("boom") })

	_, err := q.Enqueue(ctx, "nobody.handles.this", struct{}{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, ActorImportOutbox, struct{}{})
	require.NoError(t, err)

	assert.Equal(t, 2, w.RunOnce(ctx))
	n, err := database.CountJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, RetryDelay(1))
	assert.Equal(t, 5*time.Minute, RetryDelay(2))
	assert.Equal(t, 1440*time.Minute, RetryDelay(6))
	assert.Equal(t, 1440*time.Minute, RetryDelay(9))
}

func TestIsPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	err := fmt.Errorf("wrapped: %w", Permanent(domain.ErrNotFound))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, IsPermanent(errors.New("plain")))
}
