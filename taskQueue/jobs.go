package taskqueue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mediagent/models"

	"github.com/google/uuid"
)

// Enqueue appends one pending job per id, skipping ids that already have a
// pending job or repeat within ids. It returns the pending count afterwards.
func (q *DBQueue) Enqueue(ids []string, opts models.JobOptions) (int, error) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return 0, ErrEmptyIDs
	}

	rec, err := q.Update(func(rec *models.QueueRecord) error {
		pending := make(map[string]bool)
		for _, j := range rec.Jobs {
			if j.Status == models.StatusPending {
				pending[j.ItemID] = true
			}
		}
		now := q.now().UTC()
		for _, id := range clean {
			if pending[id] {
				continue
			}
			pending[id] = true
			rec.Jobs = append(rec.Jobs, models.ConversionJob{
				ID:      uuid.NewString(),
				ItemID:  id,
				Status:  models.StatusPending,
				Options: opts,
				AddedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.Counts().Pending, nil
}

// ClaimNext moves the oldest pending job to processing.
// ok is false when nothing is pending.
func (q *DBQueue) ClaimNext() (job models.ConversionJob, ok bool, err error) {
	_, err = q.Update(func(rec *models.QueueRecord) error {
		ok = false
		idx := -1
		for i, j := range rec.Jobs {
			if j.Status != models.StatusPending {
				continue
			}
			if idx < 0 || j.AddedAt.Before(rec.Jobs[idx].AddedAt) {
				idx = i
			}
		}
		if idx < 0 {
			return nil
		}
		now := q.now().UTC()
		rec.Jobs[idx].Status = models.StatusProcessing
		rec.Jobs[idx].StartedAt = &now
		rec.Jobs[idx].HeartbeatAt = &now
		job, ok = rec.Jobs[idx], true
		return nil
	})
	if err != nil {
		return models.ConversionJob{}, false, err
	}
	return job, ok, nil
}

// Finish moves a processing job to completed, or to failed when jobErr is non-nil
func (q *DBQueue) Finish(jobID string, jobErr error) (models.ConversionJob, error) {
	var done models.ConversionJob
	_, err := q.Update(func(rec *models.QueueRecord) error {
		for i := range rec.Jobs {
			j := &rec.Jobs[i]
			if j.ID != jobID {
				continue
			}
			to := models.StatusCompleted
			if jobErr != nil {
				to = models.StatusFailed
			}
			if !j.Status.CanTransition(to) {
				return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, jobID, j.Status, to)
			}
			*j = j.Finished(jobErr, q.now().UTC())
			done = *j
			return nil
		}
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	})
	return done, err
}

// FailStale marks processing jobs whose last heartbeat is before cutoff as failed with reason
func (q *DBQueue) FailStale(cutoff time.Time, reason string) ([]models.ConversionJob, error) {
	var failed []models.ConversionJob
	_, err := q.Update(func(rec *models.QueueRecord) error {
		failed = failed[:0]
		now := q.now().UTC()
		for i := range rec.Jobs {
			j := &rec.Jobs[i]
			if j.Status != models.StatusProcessing || !j.LastSeen().Before(cutoff) {
				continue
			}
			*j = j.Finished(errors.New(reason), now)
			failed = append(failed, *j)
		}
		return nil
	})
	return failed, err
}

// Clear drops every job that is not pending and returns the pending count
func (q *DBQueue) Clear() (int, error) {
	rec, err := q.Update(func(rec *models.QueueRecord) error {
		kept := rec.Jobs[:0]
		for _, j := range rec.Jobs {
			if j.Status == models.StatusPending {
				kept = append(kept, j)
			}
		}
		rec.Jobs = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.Counts().Pending, nil
}

// Jobs returns a snapshot of the queue ordered by AddedAt
func (q *DBQueue) Jobs() ([]models.ConversionJob, error) {
	rec, err := q.Load()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rec.Jobs, func(i, j int) bool { return rec.Jobs[i].AddedAt.Before(rec.Jobs[j].AddedAt) })
	return rec.Jobs, nil
}
