package credentials

import (
	"encoding/json"
	"errors"
	"fmt"

	"mediagent/logger"

	"github.com/cockroachdb/pebble"
)

// ErrUnknownSite is returned when no secret is registered for a site key
var ErrUnknownSite = errors.New("unknown site key")

const (
	sitePrefix    = "site:"
	backendPrefix = "backend:"
)

// Store keeps site secrets and backup backend access info in Pebble.
// Values are JSON-encoded string maps.
type Store struct {
	db *pebble.DB
}

// Open opens the Pebble DB for credentials at the specified path
func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		logger.Errorf("Failed to open credentials DB: %v", err)
		return nil, fmt.Errorf("failed to open credentials store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the credentials map stored under key, or pebble.ErrNotFound
func (s *Store) Get(key string) (map[string]string, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	creds := make(map[string]string)
	if err := json.Unmarshal(value, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// Put stores the credentials map under the given key
func (s *Store) Put(key string, creds map[string]string) error {
	encoded, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(key), encoded, pebble.Sync)
}

func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

// RegisterSite stores the shared HMAC secret for a site key
func (s *Store) RegisterSite(siteKey, secret string) error {
	if siteKey == "" || secret == "" {
		return errors.New("site key and secret are required")
	}
	return s.Put(sitePrefix+siteKey, map[string]string{"secret": secret})
}

// SiteSecret looks up the shared secret for a site key
func (s *Store) SiteSecret(siteKey string) (string, error) {
	creds, err := s.Get(sitePrefix + siteKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", ErrUnknownSite
	}
	if err != nil {
		return "", fmt.Errorf("failed to read site secret: %w", err)
	}
	secret := creds["secret"]
	if secret == "" {
		return "", ErrUnknownSite
	}
	return secret, nil
}

// BackendAccessInfo returns stored access info for a backup backend kind.
// A missing entry yields an empty map.
func (s *Store) BackendAccessInfo(kind string) (map[string]string, error) {
	creds, err := s.Get(backendPrefix + kind)
	if errors.Is(err, pebble.ErrNotFound) {
		return map[string]string{}, nil
	}
	return creds, err
}

// StoreBackendAccessInfo persists access info for a backup backend kind
func (s *Store) StoreBackendAccessInfo(kind string, info map[string]string) error {
	return s.Put(backendPrefix+kind, info)
}
