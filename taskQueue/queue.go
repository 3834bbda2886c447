package taskqueue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"mediagent/models"

	"github.com/cockroachdb/pebble"
)

const (
	recordKey = "queue"
	lockKey   = "lock"
)

var (
	ErrEmptyIDs          = errors.New("ids must not be empty")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotFound       = errors.New("job not found")
)

// DBQueue stores the whole conversion queue as one versioned Pebble value
// next to the site-wide drain lock. Every mutation rereads the record under mu;
// the data directory flock keeps other processes out of the DB.
type DBQueue struct {
	DB       *pebble.DB
	DataFile string

	mu  sync.Mutex
	now func() time.Time
}

// OpenQueue opens (or creates) a pebble DB at the given dataFile path
func OpenQueue(dataFile string) (*DBQueue, error) {
	db, err := pebble.Open(dataFile, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}
	return &DBQueue{DB: db, DataFile: dataFile, now: time.Now}, nil
}

// WithClock replaces the time source, for tests
func (q *DBQueue) WithClock(now func() time.Time) *DBQueue {
	q.now = now
	return q
}

func (q *DBQueue) Close() error {
	return q.DB.Close()
}

// get returns a copy of the value for key, or nil when absent
func (q *DBQueue) get(key string) ([]byte, error) {
	value, closer, err := q.DB.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (q *DBQueue) load() (models.QueueRecord, error) {
	var rec models.QueueRecord
	data, err := q.get(recordKey)
	if err != nil || data == nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal queue record: %w", err)
	}
	return rec, nil
}

// Load returns the current queue record
func (q *DBQueue) Load() (models.QueueRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// Update applies fn to a fresh copy of the record and commits it with version+1.
// Nothing is written, and the version stays, when fn leaves the jobs unchanged.
func (q *DBQueue) Update(fn func(rec *models.QueueRecord) error) (models.QueueRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.update(fn, nil)
}

// update runs fn and commits the record, plus anything already in batch, atomically.
// Callers hold mu.
func (q *DBQueue) update(fn func(rec *models.QueueRecord) error, batch *pebble.Batch) (models.QueueRecord, error) {
	if batch == nil {
		batch = q.DB.NewBatch()
	}
	defer batch.Close()

	rec, err := q.load()
	if err != nil {
		return rec, err
	}
	before, err := json.Marshal(rec.Jobs)
	if err != nil {
		return models.QueueRecord{}, err
	}
	rec.Jobs = append([]models.ConversionJob(nil), rec.Jobs...)
	if err := fn(&rec); err != nil {
		return models.QueueRecord{}, err
	}
	after, err := json.Marshal(rec.Jobs)
	if err != nil {
		return models.QueueRecord{}, err
	}

	if !bytes.Equal(before, after) {
		rec.Version++
		data, err := json.Marshal(rec)
		if err != nil {
			return models.QueueRecord{}, err
		}
		if err := batch.Set([]byte(recordKey), data, nil); err != nil {
			return models.QueueRecord{}, err
		}
	}
	if batch.Empty() {
		return rec, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return models.QueueRecord{}, fmt.Errorf("failed to persist queue: %w", err)
	}
	return rec, nil
}
