package failures

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	pebble "github.com/cockroachdb/pebble"
)

// FailureRecord represents a failed conversion job
type FailureRecord struct {
	JobID     string    `json:"job_id"`
	ItemID    string    `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	JobData   string    `json:"job_data"` // JSON of the job as it stood when it failed
}

type Store struct {
	db  *pebble.DB
	now func() time.Time
}

// Open opens the failure store
func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open failure store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// WithClock replaces the time source, for tests
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Close closes the failure store
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreFailure stores a job failure
func (s *Store) StoreFailure(jobID, itemID string, err error, jobData interface{}) error {
	jobJSON, jsonErr := json.Marshal(jobData)
	if jsonErr != nil {
		jobJSON = []byte(fmt.Sprintf("failed to marshal job data: %v", jsonErr))
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	record := FailureRecord{
		JobID:     jobID,
		ItemID:    itemID,
		Timestamp: s.now().UTC(),
		Error:     msg,
		JobData:   string(jobJSON),
	}

	data, jsonErr := json.Marshal(record)
	if jsonErr != nil {
		return fmt.Errorf("failed to marshal failure record: %w", jsonErr)
	}
	return s.db.Set([]byte(jobID), data, pebble.Sync)
}

// GetFailure retrieves a failure record by job id; nil when absent
func (s *Store) GetFailure(jobID string) (*FailureRecord, error) {
	data, closer, err := s.db.Get([]byte(jobID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get failure: %w", err)
	}
	defer closer.Close()

	var record FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure record: %w", err)
	}
	return &record, nil
}

// DeleteFailure removes a failure record
func (s *Store) DeleteFailure(jobID string) error {
	return s.db.Delete([]byte(jobID), pebble.Sync)
}

// ListFailures returns all failure records, newest first
func (s *Store) ListFailures() ([]FailureRecord, error) {
	failures := []FailureRecord{}
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record FailureRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // Skip invalid records
		}
		failures = append(failures, record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Timestamp.After(failures[j].Timestamp) })
	return failures, nil
}

// CleanupOldRecords deletes failure records older than maxAge and returns how many went
func (s *Store) CleanupOldRecords(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	records, err := s.ListFailures()
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	removed := 0
	for _, r := range records {
		if r.Timestamp.Before(cutoff) {
			if err := batch.Delete([]byte(r.JobID), nil); err != nil {
				return 0, err
			}
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to delete old failures: %w", err)
	}
	return removed, nil
}
