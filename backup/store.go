package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	backupbackends "mediagent/backupBackends"
	"mediagent/logger"
	"mediagent/models"

	"github.com/cockroachdb/pebble"
)

var (
	// ErrNotFound means the item has no conversion history
	ErrNotFound = errors.New("no conversion history for item")
	// ErrBackupMissing means the history existed but its backup is gone; the entry has been pruned
	ErrBackupMissing = errors.New("backup file missing")
	// ErrRestoreFailed leaves the history entry in place for a later retry
	ErrRestoreFailed = errors.New("restore failed")
	// ErrBackupFailed is returned by Preserve; nothing has been mutated
	ErrBackupFailed = errors.New("backup failed")
)

const historyPrefix = "history:"

// Library is the part of the media library the store needs to put an original back
type Library interface {
	Get(ctx context.Context, id string) (models.MediaItem, error)
	Replace(ctx context.Context, id, rel string) (models.MediaItem, error)
	AbsPath(rel string) string
}

// Store keeps pre-conversion originals in a backup backend and
// the history entries that point at them in Pebble.
type Store struct {
	db        *pebble.DB
	storage   backupbackends.Storage
	lib       Library
	retention time.Duration
	now       func() time.Time
}

func Open(dbPath string, storage backupbackends.Storage, lib Library, retention time.Duration) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return &Store{db: db, storage: storage, lib: lib, retention: retention, now: time.Now}, nil
}

// WithClock replaces the time source, for tests
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Backend names the storage backend backups go to
func (s *Store) Backend() string { return s.storage.Name() }

// Preserve copies the file at sourcePath into backup storage and returns its key
func (s *Store) Preserve(ctx context.Context, itemID, sourcePath string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	defer f.Close()

	key := path.Join(safeSegment(itemID), fmt.Sprintf("%d-%s", s.now().UnixNano(), filepath.Base(sourcePath)))
	if err := s.storage.Put(ctx, key, f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	return key, nil
}

// Discard removes a backup that never made it into a history entry
func (s *Store) Discard(ctx context.Context, key string) error {
	return s.storage.Delete(ctx, key)
}

// Record stores the history entry for a completed conversion
func (s *Store) Record(entry models.HistoryEntry) error {
	if entry.ItemID == "" {
		return errors.New("history entry without item id")
	}
	if entry.BackupBackend == "" {
		entry.BackupBackend = s.storage.Name()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(historyPrefix+entry.ItemID), data, pebble.Sync)
}

func (s *Store) Get(itemID string) (models.HistoryEntry, error) {
	value, closer, err := s.db.Get([]byte(historyPrefix + itemID))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.HistoryEntry{}, ErrNotFound
	}
	if err != nil {
		return models.HistoryEntry{}, fmt.Errorf("failed to read history: %w", err)
	}
	defer closer.Close()

	var entry models.HistoryEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return models.HistoryEntry{}, fmt.Errorf("failed to unmarshal history entry: %w", err)
	}
	return entry, nil
}

// Has reports whether itemID has a live history entry
func (s *Store) Has(itemID string) bool {
	_, err := s.Get(itemID)
	return err == nil
}

// List returns every history entry ordered by conversion time
func (s *Store) List() ([]models.HistoryEntry, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(historyPrefix),
		UpperBound: []byte(historyPrefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	entries := []models.HistoryEntry{}
	for iter.First(); iter.Valid(); iter.Next() {
		var entry models.HistoryEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ConvertedAt.Before(entries[j].ConvertedAt)
	})
	return entries, nil
}

func (s *Store) remove(itemID string) error {
	return s.db.Delete([]byte(historyPrefix+itemID), pebble.Sync)
}

func safeSegment(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// RetentionSweep deletes backups and entries converted strictly longer ago than
// the retention window, and prunes entries whose backup has disappeared.
// It returns how many entries were removed.
func (s *Store) RetentionSweep(ctx context.Context) (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.ConvertedAt.Before(cutoff) {
			if err := s.storage.Delete(ctx, entry.BackupKey); err != nil {
				logger.Warnf("Retention: failed to delete backup %s: %v", entry.BackupKey, err)
				continue
			}
			if err := s.remove(entry.ItemID); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		exists, err := s.storage.Exists(ctx, entry.BackupKey)
		if err != nil {
			logger.Warnf("Retention: cannot check backup %s: %v", entry.BackupKey, err)
			continue
		}
		if !exists {
			logger.Warnf("Retention: pruning history for %s, backup %s is gone", entry.ItemID, entry.BackupKey)
			if err := s.remove(entry.ItemID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("Retention sweep removed %d backup(s)", removed)
	}
	return removed, nil
}

// Drop deletes the backup and history entry of itemID without restoring anything.
// The pipeline uses it to roll back a conversion that failed after Record.
func (s *Store) Drop(ctx context.Context, itemID string) error {
	entry, err := s.Get(itemID)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, entry.BackupKey); err != nil {
		return err
	}
	return s.remove(itemID)
}
