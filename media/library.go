package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mediagent/config"
	"mediagent/logger"
	"mediagent/models"

	"github.com/cockroachdb/pebble"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotFound    = errors.New("media item not found")
	ErrInvalidPath = errors.New("invalid media path")
	ErrFileMissing = errors.New("media file missing on disk")
	ErrHasHistory  = errors.New("media item has conversion history, revert it first")
)

// History reports items whose current file is a converted artifact
type History interface {
	Has(itemID string) bool
}

const itemPrefix = "item:"

// Library is the agent's registry of host attachments and their files.
// Item paths are relative to root; public URLs are baseURL + "/" + path.
type Library struct {
	db      *pebble.DB
	root    string
	baseURL string
	sizes   []config.Size
	history History

	mu  sync.Mutex
	now func() time.Time
}

func Open(dbPath, root, baseURL string, sizes []config.Size) (*Library, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open media store: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create uploads dir: %w", err)
	}
	return &Library{
		db:      db,
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		sizes:   sizes,
		now:     time.Now,
	}, nil
}

func (l *Library) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// WithHistory makes Register refuse items that are still reversible
func (l *Library) WithHistory(h History) *Library {
	l.history = h
	return l
}

func (l *Library) converted(id string) error {
	if l.history != nil && l.history.Has(id) {
		return fmt.Errorf("%w: %s", ErrHasHistory, id)
	}
	return nil
}

// Root is the uploads directory on disk
func (l *Library) Root() string { return l.root }

// AbsPath resolves a library-relative path on disk
func (l *Library) AbsPath(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// URL is the public address of a library-relative path
func (l *Library) URL(rel string) string {
	return l.baseURL + "/" + strings.TrimLeft(rel, "/")
}

// RelPath converts an absolute path under root to a library path
func (l *Library) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return "", err
	}
	return cleanRel(filepath.ToSlash(rel))
}

func cleanRel(rel string) (string, error) {
	rel = path.Clean(strings.TrimLeft(filepath.ToSlash(rel), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, rel)
	}
	return rel, nil
}

func (l *Library) Get(ctx context.Context, id string) (models.MediaItem, error) {
	value, closer, err := l.db.Get([]byte(itemPrefix + id))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.MediaItem{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.MediaItem{}, err
	}
	defer closer.Close()
	var item models.MediaItem
	if err := json.Unmarshal(value, &item); err != nil {
		return models.MediaItem{}, fmt.Errorf("failed to unmarshal media item: %w", err)
	}
	return item, nil
}

func (l *Library) put(item models.MediaItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return l.db.Set([]byte(itemPrefix+item.ID), data, pebble.Sync)
}

// Register records an existing file under root as attachment id and builds its size variants
func (l *Library) Register(ctx context.Context, id, rel string) (models.MediaItem, error) {
	if id == "" {
		return models.MediaItem{}, errors.New("item id is required")
	}
	if err := l.converted(id); err != nil {
		return models.MediaItem{}, err
	}
	rel, err := cleanRel(rel)
	if err != nil {
		return models.MediaItem{}, err
	}
	abs := l.AbsPath(rel)
	mt, err := mimetype.DetectFile(abs)
	if os.IsNotExist(err) {
		return models.MediaItem{}, fmt.Errorf("%w: %s", ErrFileMissing, rel)
	}
	if err != nil {
		return models.MediaItem{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item := models.MediaItem{ID: id, Path: rel, MimeType: mt.String(), UpdatedAt: l.now().UTC()}
	if old, err := l.Get(ctx, id); err == nil {
		l.removeVariants(old, rel)
	}
	item.Variants = l.generateVariants(abs)
	if err := l.put(item); err != nil {
		return models.MediaItem{}, err
	}
	logger.Infof("Registered media item %s at %s (%d variants)", id, rel, len(item.Variants))
	return item, nil
}

// Replace makes rel the canonical file of item id.
// Variants are regenerated from the new file and the old variants removed;
// the old main file is left for the caller to delete.
func (l *Library) Replace(ctx context.Context, id, rel string) (models.MediaItem, error) {
	rel, err := cleanRel(rel)
	if err != nil {
		return models.MediaItem{}, err
	}
	abs := l.AbsPath(rel)
	mt, err := mimetype.DetectFile(abs)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("%w: %v", ErrFileMissing, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item, err := l.Get(ctx, id)
	if err != nil {
		return models.MediaItem{}, err
	}
	l.removeVariants(item, rel)
	item.Path = rel
	item.MimeType = mt.String()
	item.Variants = l.generateVariants(abs)
	item.UpdatedAt = l.now().UTC()
	if err := l.put(item); err != nil {
		return models.MediaItem{}, err
	}
	return item, nil
}

// Rename moves the item's main file to filename in the same directory.
// It returns the item before and after the move.
func (l *Library) Rename(ctx context.Context, id, filename string) (models.MediaItem, models.MediaItem, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.ContainsAny(filename, `/\`) {
		return models.MediaItem{}, models.MediaItem{}, fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}
	before, err := l.Get(ctx, id)
	if err != nil {
		return models.MediaItem{}, models.MediaItem{}, err
	}
	if filepath.Ext(filename) == "" {
		filename += path.Ext(before.Path)
	}
	newRel := path.Join(path.Dir(before.Path), filename)
	if newRel == before.Path {
		return before, before, nil
	}
	if _, err := os.Stat(l.AbsPath(newRel)); err == nil {
		return models.MediaItem{}, models.MediaItem{}, fmt.Errorf("%w: %s already exists", ErrInvalidPath, newRel)
	}
	if err := os.Rename(l.AbsPath(before.Path), l.AbsPath(newRel)); err != nil {
		return models.MediaItem{}, models.MediaItem{}, fmt.Errorf("rename %s: %w", before.Path, err)
	}
	after, err := l.Replace(ctx, id, newRel)
	if err != nil {
		// put the file back so the registry and disk agree
		os.Rename(l.AbsPath(newRel), l.AbsPath(before.Path))
		return models.MediaItem{}, models.MediaItem{}, err
	}
	logger.Infof("Renamed media item %s: %s -> %s", id, before.Path, after.Path)
	return before, after, nil
}

// List returns all registered items
func (l *Library) List(ctx context.Context) ([]models.MediaItem, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(itemPrefix),
		UpperBound: []byte(itemPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var items []models.MediaItem
	for iter.First(); iter.Valid(); iter.Next() {
		var item models.MediaItem
		if err := json.Unmarshal(iter.Value(), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, iter.Error()
}
