package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var ErrNotFound = errors.New("content key not found")

// Store is the agent's copy of the host's stored text (post bodies, meta values, options).
// Keys are opaque host identifiers such as "post:12:content" or "option:_transient_feed".
type Store struct {
	db *pebble.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Name() string { return "content" }

func (s *Store) Get(key string) ([]byte, error) {
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

func (s *Store) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("empty content key")
	}
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// Scan calls fn for every record and commits the values fn reports as changed
// in a single batch. It returns the number of records changed.
func (s *Store) Scan(ctx context.Context, fn func(key string, value []byte) ([]byte, bool)) (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	changed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			iter.Close()
			return 0, err
		}
		updated, ok := fn(string(iter.Key()), iter.Value())
		if !ok {
			continue
		}
		if err := batch.Set(append([]byte(nil), iter.Key()...), updated, nil); err != nil {
			iter.Close()
			return 0, err
		}
		changed++
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, fmt.Errorf("iteration error: %w", err)
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if changed == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit rewrite: %w", err)
	}
	return changed, nil
}
