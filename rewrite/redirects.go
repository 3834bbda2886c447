package rewrite

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mediagent/models"

	"github.com/cockroachdb/pebble"
)

const redirectPrefix = "redirect:"

// RedirectStore persists old path -> current path mappings for the host's redirect resolver.
// Mappings always point at a live path: chains are collapsed and self-mappings dropped.
type RedirectStore struct {
	db  *pebble.DB
	mu  sync.Mutex
	now func() time.Time
}

func OpenRedirects(dbPath string) (*RedirectStore, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open redirect store: %w", err)
	}
	return &RedirectStore{db: db, now: time.Now}, nil
}

func (s *RedirectStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Add records that oldPath now lives at targetPath.
func (s *RedirectStore) Add(oldPath, targetPath string) error {
	if oldPath == "" || targetPath == "" || oldPath == targetPath {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.list()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	now := s.now().UTC()
	for _, m := range existing {
		switch {
		case m.OldPath == targetPath:
			// target is live again
			if err := batch.Delete([]byte(redirectPrefix+m.OldPath), nil); err != nil {
				return err
			}
		case m.TargetPath == oldPath:
			m.TargetPath = targetPath
			if err := s.setInBatch(batch, m); err != nil {
				return err
			}
		}
	}
	if err := s.setInBatch(batch, models.RedirectMapping{OldPath: oldPath, TargetPath: targetPath, CreatedAt: now}); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *RedirectStore) setInBatch(batch *pebble.Batch, m models.RedirectMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return batch.Set([]byte(redirectPrefix+m.OldPath), data, nil)
}

// Resolve returns the current target for oldPath
func (s *RedirectStore) Resolve(oldPath string) (string, bool) {
	value, closer, err := s.db.Get([]byte(redirectPrefix + oldPath))
	if err != nil {
		return "", false
	}
	defer closer.Close()
	var m models.RedirectMapping
	if err := json.Unmarshal(value, &m); err != nil {
		return "", false
	}
	return m.TargetPath, true
}

func (s *RedirectStore) List() ([]models.RedirectMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list()
}

func (s *RedirectStore) list() ([]models.RedirectMapping, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(redirectPrefix),
		UpperBound: []byte(redirectPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	mappings := []models.RedirectMapping{}
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.RedirectMapping
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		mappings = append(mappings, m)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}
	return mappings, nil
}
