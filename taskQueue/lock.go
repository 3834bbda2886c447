package taskqueue

import (
	"encoding/json"
	"time"

	"mediagent/models"

	"github.com/cockroachdb/pebble"
)

// AcquireLock takes the drain lock for ttl unless an unexpired lock is held.
// It reports whether token now owns the lock.
func (q *DBQueue) AcquireLock(token string, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	held, err := q.currentLock()
	if err != nil {
		return false, err
	}
	if held != nil && now.Before(held.ExpiresAt) {
		return false, nil
	}
	data, err := json.Marshal(models.DrainLock{Token: token, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, err
	}
	if err := q.DB.Set([]byte(lockKey), data, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

// Heartbeat extends the lock held by token to now+ttl and stamps the running
// job's heartbeat in the same commit. It reports false when token no longer
// owns the lock.
func (q *DBQueue) Heartbeat(token, jobID string, ttl time.Duration) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.currentLock()
	if err != nil {
		return false, err
	}
	if held == nil || held.Token != token {
		return false, nil
	}
	now := q.now()
	data, err := json.Marshal(models.DrainLock{Token: token, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, err
	}
	batch := q.DB.NewBatch()
	if err := batch.Set([]byte(lockKey), data, nil); err != nil {
		batch.Close()
		return false, err
	}
	_, err = q.update(func(rec *models.QueueRecord) error {
		beat := now.UTC()
		for i := range rec.Jobs {
			if rec.Jobs[i].ID == jobID && rec.Jobs[i].Status == models.StatusProcessing {
				rec.Jobs[i].HeartbeatAt = &beat
			}
		}
		return nil
	}, batch)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLock clears the lock if token still owns it
func (q *DBQueue) ReleaseLock(token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.currentLock()
	if err != nil || held == nil || held.Token != token {
		return err
	}
	return q.DB.Delete([]byte(lockKey), pebble.Sync)
}

// LockHeld reports whether an unexpired drain lock exists
func (q *DBQueue) LockHeld() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	held, err := q.currentLock()
	return err == nil && held != nil && q.now().Before(held.ExpiresAt)
}

func (q *DBQueue) currentLock() (*models.DrainLock, error) {
	data, err := q.get(lockKey)
	if err != nil || data == nil {
		return nil, err
	}
	var lock models.DrainLock
	if err := json.Unmarshal(data, &lock); err != nil {
		// an unreadable lock is treated as expired
		return nil, nil
	}
	return &lock, nil
}
