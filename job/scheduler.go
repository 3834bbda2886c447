package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mediagent/logger"
	"mediagent/models"
	taskqueue "mediagent/taskQueue"
	"mediagent/utils"
)

const (
	DefaultLockTTL   = 300 * time.Second
	DefaultHeartbeat = 60 * time.Second
	DefaultCooldown  = 5 * time.Second

	staleReason = "interrupted: drain lock expired"
)

// Processor runs the body of one conversion job
type Processor interface {
	// Ready reports why jobs cannot run right now, e.g. no transcoding backend
	Ready() error
	// Process converts the job's item and returns its new library path
	Process(ctx context.Context, job models.ConversionJob) (string, error)
}

// FailureLog keeps failed jobs for later inspection
type FailureLog interface {
	StoreFailure(jobID, itemID string, err error, jobData interface{}) error
}

// TriggerResult describes one drain attempt
type TriggerResult struct {
	// Skipped is true when another drain holds the lock
	Skipped bool
	// Job is the job that ran, nil when nothing was pending
	Job *models.ConversionJob
	// More reports pending jobs left after this drain
	More bool
}

// Scheduler drains the queue one job at a time under the site-wide lock
type Scheduler struct {
	queue    *taskqueue.DBQueue
	proc     Processor
	failures FailureLog
	notifier *Notifier

	LockTTL time.Duration
	// Heartbeat renews the lock while a job runs; keep it well under LockTTL
	Heartbeat    time.Duration
	Cooldown     time.Duration
	PollInterval time.Duration

	kick chan struct{}
	now  func() time.Time
}

func NewScheduler(queue *taskqueue.DBQueue, proc Processor, failures FailureLog, notifier *Notifier, poll time.Duration) *Scheduler {
	if poll <= 0 {
		poll = time.Minute
	}
	return &Scheduler{
		queue:        queue,
		proc:         proc,
		failures:     failures,
		notifier:     notifier,
		LockTTL:      DefaultLockTTL,
		Heartbeat:    DefaultHeartbeat,
		Cooldown:     DefaultCooldown,
		PollInterval: poll,
		kick:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Enqueue validates and queues ids, then wakes the loop.
// It returns the pending count.
func (s *Scheduler) Enqueue(ids []string, opts models.JobOptions) (int, error) {
	if err := s.proc.Ready(); err != nil {
		return 0, &ValidationError{Err: err}
	}
	n, err := s.queue.Enqueue(ids, opts)
	if errors.Is(err, taskqueue.ErrEmptyIDs) {
		return 0, &ValidationError{Err: err}
	}
	if err != nil {
		return 0, err
	}
	logger.Infof("Enqueued %d id(s), %d pending", len(ids), n)
	s.Kick()
	return n, nil
}

// Kick asks the loop to drain as soon as it is idle
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Status returns per-state counts; IsProcessing is true while a drain holds the lock
func (s *Scheduler) Status() (models.QueueCounts, error) {
	rec, err := s.queue.Load()
	if err != nil {
		return models.QueueCounts{}, err
	}
	counts := rec.Counts()
	counts.IsProcessing = s.queue.LockHeld()
	return counts, nil
}

// Clear drops every finished job and returns the pending count
func (s *Scheduler) Clear() (int, error) {
	return s.queue.Clear()
}

// Trigger runs at most one pending job. It is a no-op while another drain holds the lock.
func (s *Scheduler) Trigger(ctx context.Context) (TriggerResult, error) {
	token, err := utils.GenerateRandomHex(16)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("failed to generate lock token: %w", err)
	}
	ok, err := s.queue.AcquireLock(token, s.LockTTL)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("failed to acquire drain lock: %w", err)
	}
	if !ok {
		return TriggerResult{Skipped: true}, nil
	}
	defer func() {
		if err := s.queue.ReleaseLock(token); err != nil {
			logger.Errorf("Failed to release drain lock: %v", err)
		}
	}()

	stale, err := s.queue.FailStale(s.now().Add(-s.LockTTL), staleReason)
	if err != nil {
		return TriggerResult{}, err
	}
	for _, j := range stale {
		logger.Warnf("Job %s for item %s was %s", j.ID, j.ItemID, staleReason)
		s.recordFailure(j, errors.New(staleReason))
		s.notify(ctx, j, "")
	}

	job, found, err := s.queue.ClaimNext()
	if err != nil {
		return TriggerResult{}, err
	}
	if !found {
		return TriggerResult{}, nil
	}

	logger.Infof("Processing job %s for item %s", job.ID, job.ItemID)
	// a claimed job always runs to a terminal state
	stopBeat := s.startHeartbeat(token, job.ID)
	path, procErr := s.proc.Process(context.WithoutCancel(ctx), job)
	stopBeat()

	done, err := s.queue.Finish(job.ID, procErr)
	if errors.Is(err, taskqueue.ErrJobNotFound) {
		// cleared while running; the outcome is still reported
		logger.Warnf("Job %s was cleared from the queue while running", job.ID)
		done, err = job.Finished(procErr, s.now().UTC()), nil
	}
	if err != nil {
		return TriggerResult{}, fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}
	if procErr != nil {
		logger.Errorf("Job %s for item %s failed: %v", job.ID, job.ItemID, procErr)
		s.recordFailure(done, procErr)
	} else {
		logger.Infof("Job %s for item %s completed: %s", job.ID, job.ItemID, path)
	}
	s.notify(ctx, done, path)

	rec, err := s.queue.Load()
	if err != nil {
		return TriggerResult{Job: &done}, err
	}
	return TriggerResult{Job: &done, More: rec.Counts().Pending > 0}, nil
}

// startHeartbeat renews the drain lock every s.Heartbeat until the returned stop is called
func (s *Scheduler) startHeartbeat(token, jobID string) (stop func()) {
	interval := s.Heartbeat
	if interval <= 0 {
		interval = s.LockTTL / 5
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := s.queue.Heartbeat(token, jobID, s.LockTTL)
				if err != nil {
					logger.Errorf("Failed to renew drain lock for job %s: %v", jobID, err)
				} else if !ok {
					logger.Warnf("Drain lock for job %s was lost", jobID)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Run drains on every poll tick, every Kick, and after a cool-down while work remains.
// It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	var followUp <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		case <-followUp:
		}
		followUp = nil

		res, err := s.Trigger(ctx)
		if err != nil {
			logger.Errorf("Drain failed: %v", err)
		}
		if res.More {
			followUp = time.After(s.Cooldown)
		}
	}
}

func (s *Scheduler) recordFailure(j models.ConversionJob, err error) {
	if s.failures == nil {
		return
	}
	if storeErr := s.failures.StoreFailure(j.ID, j.ItemID, err, j); storeErr != nil {
		logger.Errorf("Failed to store failure for job %s: %v", j.ID, storeErr)
	}
}

func (s *Scheduler) notify(ctx context.Context, j models.ConversionJob, path string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, j, path); err != nil {
		logger.Errorf("Failed to send callback for job %s: %v", j.ID, err)
	}
}
