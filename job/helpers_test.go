package job

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediagent/backup"
	backupbackends "mediagent/backupBackends"
	cachepurge "mediagent/cachePurge"
	"mediagent/config"
	"mediagent/content"
	"mediagent/encoder"
	"mediagent/failures"
	"mediagent/media"
	"mediagent/rewrite"
	taskqueue "mediagent/taskQueue"

	"github.com/stretchr/testify/require"
)

type recordingPurger struct {
	mu    sync.Mutex
	items []string
}

func (r *recordingPurger) Name() string                       { return "recording" }
func (r *recordingPurger) Available(ctx context.Context) bool { return true }
func (r *recordingPurger) Purge(ctx context.Context, itemID string, urls []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, itemID)
	return nil
}

func (r *recordingPurger) Items() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

type failingTranscoder struct{}

func (failingTranscoder) Name() string    { return "failing" }
func (failingTranscoder) Available() bool { return true }
func (failingTranscoder) Convert(ctx context.Context, src string, f encoder.Format) (string, error) {
	return "", encoder.ErrConversionFailed
}

type brokenStorage struct{}

func (brokenStorage) Name() string { return "broken" }
func (brokenStorage) Put(ctx context.Context, key string, r io.Reader) error {
	return errors.New("bucket unreachable")
}
func (brokenStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, backupbackends.ErrNotExist
}
func (brokenStorage) Delete(ctx context.Context, key string) error         { return nil }
func (brokenStorage) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

type harness struct {
	lib       *media.Library
	backups   *backup.Store
	backupDir string
	content   *content.Store
	redirects *rewrite.RedirectStore
	purger    *recordingPurger
	failures  *failures.Store
	queue     *taskqueue.DBQueue
	pipeline  *Pipeline
	sched     *Scheduler
}

type harnessOpts struct {
	transcoder encoder.Transcoder
	storage    backupbackends.Storage
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{purger: &recordingPurger{}, backupDir: filepath.Join(dir, "backups")}

	var err error
	h.lib, err = media.Open(filepath.Join(dir, "media.db"), filepath.Join(dir, "uploads"),
		"https://example.com/uploads", []config.Size{{Width: 40, Height: 40}})
	require.NoError(t, err)
	t.Cleanup(func() { h.lib.Close() })

	storage := opts.storage
	if storage == nil {
		storage, err = backupbackends.NewLocal(h.backupDir)
		require.NoError(t, err)
	}
	h.backups, err = backup.Open(filepath.Join(dir, "history.db"), storage, h.lib, 30*24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { h.backups.Close() })
	h.lib.WithHistory(h.backups)

	h.content, err = content.Open(filepath.Join(dir, "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.content.Close() })

	h.redirects, err = rewrite.OpenRedirects(filepath.Join(dir, "redirects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.redirects.Close() })

	h.failures, err = failures.Open(filepath.Join(dir, "failures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.failures.Close() })

	h.queue, err = taskqueue.OpenQueue(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.queue.Close() })

	transcoder := opts.transcoder
	if transcoder == nil {
		transcoder = encoder.NewRegistry(encoder.Native{})
	}
	h.pipeline = &Pipeline{
		Library:    h.lib,
		Transcoder: transcoder,
		Backups:    h.backups,
		Redirects:  h.redirects,
		Rewriter:   rewrite.New([]string{"_transient", "_site_transient", "cron", "__"}, h.content),
		Purgers:    cachepurge.NewRegistry(h.purger),
	}
	h.sched = NewScheduler(h.queue, h.pipeline, h.failures, nil, time.Hour)
	return h
}

// addImage writes a 64x64 PNG with transparency and registers it as item id
func (h *harness) addImage(t *testing.T, id, rel string) []byte {
	t.Helper()
	abs := h.addFile(t, rel)
	_, err := h.lib.Register(context.Background(), id, rel)
	require.NoError(t, err)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	return data
}

// addFile writes a 64x64 PNG under the uploads root without registering it
func (h *harness) addFile(t *testing.T, rel string) string {
	t.Helper()
	abs := h.lib.AbsPath(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: uint8(128 + x)})
		}
	}
	f, err := os.Create(abs)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return abs
}
