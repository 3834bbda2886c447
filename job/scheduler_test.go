package job

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediagent/encoder"
	"mediagent/models"
	"mediagent/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueScenario(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	originals := map[string][]byte{}
	for _, id := range []string{"1", "2", "3"} {
		originals[id] = h.addImage(t, id, "img"+id+".png")
	}

	n, err := h.sched.Enqueue([]string{"1", "2", "3"}, models.JobOptions{KeepBackup: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	status, err := h.sched.Status()
	require.NoError(t, err)
	assert.Equal(t, models.QueueCounts{Pending: 3, Total: 3}, status)

	res, err := h.sched.Trigger(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, "1", res.Job.ItemID)
	assert.True(t, res.More)

	status, err = h.sched.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.Pending)
	assert.Equal(t, 1, status.Completed)
	assert.False(t, status.IsProcessing)

	_, err = h.pipeline.Revert(ctx, "1")
	require.NoError(t, err)
	assert.False(t, h.backups.Has("1"))

	for i := 0; i < 2; i++ {
		_, err = h.sched.Trigger(ctx)
		require.NoError(t, err)
	}
	res, err = h.sched.Trigger(ctx)
	require.NoError(t, err)
	assert.Nil(t, res.Job)
	assert.False(t, res.More)

	pending, err := h.sched.Clear()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
	status, err = h.sched.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Total)
}

func TestFailedJobIsRecordedAndNotRetried(t *testing.T) {
	h := newHarness(t, harnessOpts{transcoder: failingTranscoder{}})
	h.addImage(t, "9", "nine.png")

	_, err := h.sched.Enqueue([]string{"9"}, models.JobOptions{KeepBackup: true})
	require.NoError(t, err)
	res, err := h.sched.Trigger(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	failed := *res.Job
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "conversion failed")
	require.NotNil(t, failed.FailedAt)

	rec, err := h.failures.GetFailure(failed.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "9", rec.ItemID)

	res, err = h.sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.Job, "failed jobs stay failed")

	status, err := h.sched.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)
	assert.Zero(t, status.Pending)
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, err := h.sched.Enqueue(nil, models.JobOptions{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	none := newHarness(t, harnessOpts{transcoder: encoder.NewRegistry()})
	_, err = none.sched.Enqueue([]string{"1"}, models.JobOptions{})
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, encoder.ErrNoBackendAvailable)

	status, err := none.sched.Status()
	require.NoError(t, err)
	assert.Zero(t, status.Total)
}

type slowProcessor struct {
	delay time.Duration
	runs  atomic.Int32
}

func (p *slowProcessor) Ready() error { return nil }

func (p *slowProcessor) Process(ctx context.Context, job models.ConversionJob) (string, error) {
	p.runs.Add(1)
	time.Sleep(p.delay)
	return job.ItemID + ".webp", nil
}

func TestConcurrentTriggersNeverOverlap(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	proc := &slowProcessor{delay: 20 * time.Millisecond}
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	_, err := sched.Enqueue(ids, models.JobOptions{})
	require.NoError(t, err)

	stop := make(chan struct{})
	var maxProcessing atomic.Int32
	var samplerDone sync.WaitGroup
	samplerDone.Add(1)
	go func() {
		defer samplerDone.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			rec, err := h.queue.Load()
			if err == nil {
				if n := int32(rec.Counts().Processing); n > maxProcessing.Load() {
					maxProcessing.Store(n)
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				status, err := sched.Status()
				if err != nil || (status.Pending == 0 && !status.IsProcessing) {
					return
				}
				if _, err := sched.Trigger(context.Background()); err != nil {
					t.Errorf("trigger: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	samplerDone.Wait()

	assert.LessOrEqual(t, maxProcessing.Load(), int32(1))
	assert.Equal(t, int32(len(ids)), proc.runs.Load())
	status, err := sched.Status()
	require.NoError(t, err)
	assert.Equal(t, len(ids), status.Completed)
}

func TestTriggerIsNoopWhileLockHeld(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	proc := &slowProcessor{}
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)
	_, err := sched.Enqueue([]string{"x"}, models.JobOptions{})
	require.NoError(t, err)

	ok, err := h.queue.AcquireLock("someone-else", DefaultLockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, proc.runs.Load())

	status, err := sched.Status()
	require.NoError(t, err)
	assert.True(t, status.IsProcessing)
	assert.Equal(t, 1, status.Pending)
}

func TestStaleProcessingJobFailsOnNextDrain(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	now := time.Now()
	clock := func() time.Time { return now }
	h.queue.WithClock(clock)

	proc := &slowProcessor{}
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)
	sched.now = clock

	_, err := sched.Enqueue([]string{"stuck", "next"}, models.JobOptions{})
	require.NoError(t, err)

	// a drain that crashed after claiming: the job is processing, the lock is left to expire
	stuck, ok, err := h.queue.ClaimNext()
	require.NoError(t, err)
	require.True(t, ok)
	locked, err := h.queue.AcquireLock("crashed", DefaultLockTTL)
	require.NoError(t, err)
	require.True(t, locked)

	now = now.Add(DefaultLockTTL + time.Second)
	res, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Job)
	assert.Equal(t, "next", res.Job.ItemID)

	jobs, err := h.queue.Jobs()
	require.NoError(t, err)
	for _, j := range jobs {
		if j.ID == stuck.ID {
			assert.Equal(t, models.StatusFailed, j.Status)
			assert.Equal(t, staleReason, j.Error)
		}
	}
	rec, err := h.failures.GetFailure(stuck.ID)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// blockingProcessor holds each job until release is closed
type blockingProcessor struct {
	started chan string
	release chan struct{}
	err     error
}

func newBlockingProcessor(err error) *blockingProcessor {
	return &blockingProcessor{started: make(chan string, 4), release: make(chan struct{}), err: err}
}

func (p *blockingProcessor) Ready() error { return nil }

func (p *blockingProcessor) Process(ctx context.Context, job models.ConversionJob) (string, error) {
	p.started <- job.ItemID
	<-p.release
	if p.err != nil {
		return "", p.err
	}
	return job.ItemID + ".webp", nil
}

type triggerOutcome struct {
	res TriggerResult
	err error
}

func triggerAsync(sched *Scheduler) <-chan triggerOutcome {
	out := make(chan triggerOutcome, 1)
	go func() {
		res, err := sched.Trigger(context.Background())
		out <- triggerOutcome{res, err}
	}()
	return out
}

func waitStarted(t *testing.T, p *blockingProcessor) string {
	t.Helper()
	select {
	case id := <-p.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
		return ""
	}
}

func TestLongJobKeepsDrainLockPastTTL(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	c := &testClock{t: time.Now()}
	h.queue.WithClock(c.Now)

	proc := newBlockingProcessor(nil)
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)
	sched.now = c.Now
	sched.Heartbeat = 5 * time.Millisecond

	_, err := sched.Enqueue([]string{"a", "b"}, models.JobOptions{})
	require.NoError(t, err)

	first := triggerAsync(sched)
	assert.Equal(t, "a", waitStarted(t, proc))

	c.Advance(DefaultLockTTL + time.Second)
	require.Eventually(t, h.queue.LockHeld, 2*time.Second, 5*time.Millisecond, "heartbeat renews the lock")

	res, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped, "no second job starts while the first is running")

	close(proc.release)
	out := <-first
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Job)
	assert.Equal(t, models.StatusCompleted, out.res.Job.Status)
	assert.True(t, out.res.More)

	rec, err := h.failures.GetFailure(out.res.Job.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	status, err := sched.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 1, status.Pending)
	assert.Zero(t, status.Failed)
}

func TestClearDuringDrainStillReportsOutcome(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	proc := newBlockingProcessor(errors.New("encoder crashed"))
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)

	_, err := sched.Enqueue([]string{"a"}, models.JobOptions{})
	require.NoError(t, err)

	first := triggerAsync(sched)
	waitStarted(t, proc)
	pending, err := sched.Clear()
	require.NoError(t, err)
	assert.Zero(t, pending)

	close(proc.release)
	out := <-first
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Job)
	assert.Equal(t, models.StatusFailed, out.res.Job.Status)
	assert.Equal(t, "encoder crashed", out.res.Job.Error)

	rec, err := h.failures.GetFailure(out.res.Job.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "a", rec.ItemID)
}

func TestRunDrainsAfterKickWithCooldown(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	proc := &slowProcessor{}
	sched := NewScheduler(h.queue, proc, h.failures, nil, time.Hour)
	sched.Cooldown = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	_, err := sched.Enqueue([]string{"1", "2", "3"}, models.JobOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		status, err := sched.Status()
		return err == nil && status.Completed == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNotifierPostsSignedEvent(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	received := make(chan *models.JobEvent, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/jose", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		ev, err := utils.VerifyJobEvent(string(body), utils.VerifyConfig{SecretKey: []byte(secret), ExpectedIssuer: "mediagent"})
		assert.NoError(t, err)
		received <- ev
	}))
	defer srv.Close()

	h := newHarness(t, harnessOpts{})
	sched := NewScheduler(h.queue, &slowProcessor{}, h.failures, NewNotifier(srv.URL, "site-1", secret), time.Hour)
	_, err := sched.Enqueue([]string{"77"}, models.JobOptions{})
	require.NoError(t, err)
	_, err = sched.Trigger(context.Background())
	require.NoError(t, err)

	select {
	case ev := <-received:
		require.NotNil(t, ev)
		assert.Equal(t, "77", ev.ItemID)
		assert.Equal(t, "site-1", ev.SiteKey)
		assert.Equal(t, models.StatusCompleted, ev.Status)
		assert.Equal(t, "77.webp", ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no callback received")
	}
}

func TestNotifierErrorsDoNotFailJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t, harnessOpts{})
	n := NewNotifier(srv.URL, "site", "0123456789abcdef0123456789abcdef")
	assert.Error(t, n.Notify(context.Background(), models.ConversionJob{ID: "j"}, ""))

	sched := NewScheduler(h.queue, &slowProcessor{}, h.failures, n, time.Hour)
	_, err := sched.Enqueue([]string{"1"}, models.JobOptions{})
	require.NoError(t, err)
	res, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, res.Job.Status)

	assert.Nil(t, NewNotifier("", "site", "0123456789abcdef0123456789abcdef"))
	assert.Nil(t, NewNotifier(srv.URL, "site", "short"))
}
