package taskqueue

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediagent/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestQueue(t *testing.T) (*DBQueue, *clock) {
	t.Helper()
	q, err := OpenQueue(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q.WithClock(c.Now)
	return q, c
}

func TestEnqueueDeduplicatesPending(t *testing.T) {
	q, _ := openTestQueue(t)

	n, err := q.Enqueue([]string{"7"}, models.JobOptions{KeepBackup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = q.Enqueue([]string{"7"}, models.JobOptions{KeepBackup: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version, "a no-op enqueue writes nothing")

	n, err = q.Enqueue([]string{"8", "8", " 9 ", ""}, models.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rec, err = q.Load()
	require.NoError(t, err)
	assert.Len(t, rec.Jobs, 3)
	assert.Equal(t, uint64(2), rec.Version)
}

func TestEnqueueRejectsEmptyIDs(t *testing.T) {
	q, _ := openTestQueue(t)
	_, err := q.Enqueue(nil, models.JobOptions{})
	assert.ErrorIs(t, err, ErrEmptyIDs)
	_, err = q.Enqueue([]string{" "}, models.JobOptions{})
	assert.ErrorIs(t, err, ErrEmptyIDs)
}

func TestEnqueueAllowsNewJobAfterTerminal(t *testing.T) {
	q, _ := openTestQueue(t)
	_, err := q.Enqueue([]string{"1"}, models.JobOptions{})
	require.NoError(t, err)
	job, ok, err := q.ClaimNext()
	require.NoError(t, err)
	require.True(t, ok)
	_, err = q.Finish(job.ID, errors.New("boom"))
	require.NoError(t, err)

	n, err := q.Enqueue([]string{"1"}, models.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimIsFIFOAndTransitionsAreMonotonic(t *testing.T) {
	q, c := openTestQueue(t)
	_, err := q.Enqueue([]string{"a"}, models.JobOptions{})
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = q.Enqueue([]string{"b", "c"}, models.JobOptions{})
	require.NoError(t, err)

	first, ok, err := q.ClaimNext()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", first.ItemID)
	assert.Equal(t, models.StatusProcessing, first.Status)
	require.NotNil(t, first.StartedAt)

	done, err := q.Finish(first.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = q.Finish(first.ID, errors.New("late"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = q.Finish("nope", nil)
	assert.ErrorIs(t, err, ErrJobNotFound)

	second, _, err := q.ClaimNext()
	require.NoError(t, err)
	assert.Equal(t, "b", second.ItemID)
	failed, err := q.Finish(second.ID, errors.New("encoder crashed"))
	require.NoError(t, err)
	assert.Equal(t, "encoder crashed", failed.Error)
	require.NotNil(t, failed.FailedAt)

	rec, err := q.Load()
	require.NoError(t, err)
	counts := rec.Counts()
	assert.Equal(t, models.QueueCounts{Pending: 1, Completed: 1, Failed: 1, Total: 3}, counts)
}

func TestClaimNextOnEmptyQueue(t *testing.T) {
	q, _ := openTestQueue(t)
	_, ok, err := q.ClaimNext()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearKeepsPending(t *testing.T) {
	q, _ := openTestQueue(t)
	_, err := q.Enqueue([]string{"1", "2", "3"}, models.JobOptions{})
	require.NoError(t, err)
	job, _, err := q.ClaimNext()
	require.NoError(t, err)
	_, err = q.Finish(job.ID, nil)
	require.NoError(t, err)

	pending, err := q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	jobs, err := q.Jobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.Equal(t, models.StatusPending, j.Status)
	}
}

func TestFailStale(t *testing.T) {
	q, c := openTestQueue(t)
	_, err := q.Enqueue([]string{"1", "2"}, models.JobOptions{})
	require.NoError(t, err)
	stuck, _, err := q.ClaimNext()
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	failed, err := q.FailStale(c.Now().Add(-5*time.Minute), "interrupted")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, stuck.ID, failed[0].ID)
	assert.Equal(t, models.StatusFailed, failed[0].Status)

	fresh, _, err := q.ClaimNext()
	require.NoError(t, err)
	failed, err = q.FailStale(c.Now().Add(-5*time.Minute), "interrupted")
	require.NoError(t, err)
	assert.Empty(t, failed)

	rec, err := q.Load()
	require.NoError(t, err)
	for _, j := range rec.Jobs {
		if j.ID == fresh.ID {
			assert.Equal(t, models.StatusProcessing, j.Status)
		}
	}
}

func TestConcurrentEnqueueLosesNothing(t *testing.T) {
	q, _ := openTestQueue(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.Enqueue([]string{string(rune('a' + i))}, models.JobOptions{})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := q.Load()
	require.NoError(t, err)
	assert.Len(t, rec.Jobs, 20)
	assert.Equal(t, uint64(20), rec.Version)
}

func TestDrainLock(t *testing.T) {
	q, c := openTestQueue(t)

	ok, err := q.AcquireLock("one", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, q.LockHeld())

	ok, err = q.AcquireLock("two", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, q.ReleaseLock("two"))
	assert.True(t, q.LockHeld(), "release with a foreign token is ignored")

	c.Advance(301 * time.Second)
	assert.False(t, q.LockHeld())
	ok, err = q.AcquireLock("two", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock can be taken over")

	require.NoError(t, q.ReleaseLock("one"))
	assert.True(t, q.LockHeld())
	require.NoError(t, q.ReleaseLock("two"))
	assert.False(t, q.LockHeld())
}

func TestHeartbeatKeepsLockAndJobAlive(t *testing.T) {
	q, c := openTestQueue(t)
	_, err := q.Enqueue([]string{"long"}, models.JobOptions{})
	require.NoError(t, err)
	ok, err := q.AcquireLock("drain", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	job, _, err := q.ClaimNext()
	require.NoError(t, err)

	c.Advance(200 * time.Second)
	ok, err = q.Heartbeat("drain", job.ID, 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	c.Advance(200 * time.Second)
	assert.True(t, q.LockHeld(), "renewed lock outlives the original ttl")
	ok, err = q.AcquireLock("other", 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	failed, err := q.FailStale(c.Now().Add(-300*time.Second), "interrupted")
	require.NoError(t, err)
	assert.Empty(t, failed, "a job with a recent heartbeat is not stale")

	ok, err = q.Heartbeat("someone-else", job.ID, 300*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearWithNothingToDropWritesNothing(t *testing.T) {
	q, _ := openTestQueue(t)
	_, err := q.Enqueue([]string{"1"}, models.JobOptions{})
	require.NoError(t, err)
	pending, err := q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	rec, err := q.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
}
