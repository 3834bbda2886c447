package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"mediagent/backup"
	cachepurge "mediagent/cachePurge"
	"mediagent/encoder"
	"mediagent/logger"
	"mediagent/models"
	"mediagent/rewrite"
)

// Library is the media library as the pipeline sees it
type Library interface {
	Get(ctx context.Context, id string) (models.MediaItem, error)
	Replace(ctx context.Context, id, rel string) (models.MediaItem, error)
	Rename(ctx context.Context, id, filename string) (models.MediaItem, models.MediaItem, error)
	AbsPath(rel string) string
	RelPath(abs string) (string, error)
	URL(rel string) string
}

// Pipeline is the job body plus the revert and rename flows that share its post-conditions
type Pipeline struct {
	Library    Library
	Transcoder encoder.Transcoder
	Backups    *backup.Store
	Redirects  *rewrite.RedirectStore
	Rewriter   *rewrite.Rewriter
	Purgers    *cachepurge.Registry

	now func() time.Time
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Pipeline) Ready() error {
	if !p.Transcoder.Available() {
		return encoder.ErrNoBackendAvailable
	}
	return nil
}

// Process converts one item. The original is deleted only after the converted
// file exists and, with keep_backup, after its backup and history entry are stored.
func (p *Pipeline) Process(ctx context.Context, job models.ConversionJob) (string, error) {
	item, err := p.Library.Get(ctx, job.ItemID)
	if err != nil {
		return "", err
	}
	if p.Backups.Has(item.ID) {
		return "", ErrAlreadyConverted
	}

	srcAbs := p.Library.AbsPath(item.Path)
	format, err := encoder.DetectFormat(srcAbs)
	if err != nil {
		return "", err
	}

	var backupKey string
	if job.Options.KeepBackup {
		if backupKey, err = p.Backups.Preserve(ctx, item.ID, srcAbs); err != nil {
			return "", err
		}
	}
	discard := func() {
		if backupKey == "" {
			return
		}
		if err := p.Backups.Discard(ctx, backupKey); err != nil {
			logger.Warnf("Failed to discard unused backup %s: %v", backupKey, err)
		}
	}

	targetAbs, err := p.Transcoder.Convert(ctx, srcAbs, format)
	if err != nil {
		discard()
		return "", err
	}
	targetRel, err := p.Library.RelPath(targetAbs)
	if err != nil {
		os.Remove(targetAbs)
		discard()
		return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	if job.Options.KeepBackup {
		entry := models.HistoryEntry{
			ItemID:         item.ID,
			OriginalFormat: string(format),
			OriginalPath:   item.Path,
			BackupKey:      backupKey,
			BackupBackend:  p.Backups.Backend(),
			ConvertedPath:  targetRel,
			ConvertedAt:    p.clock().UTC(),
		}
		if err := p.Backups.Record(entry); err != nil {
			os.Remove(targetAbs)
			discard()
			return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
	}

	converted, err := p.Library.Replace(ctx, item.ID, targetRel)
	if err != nil {
		os.Remove(targetAbs)
		if job.Options.KeepBackup {
			if dropErr := p.Backups.Drop(ctx, item.ID); dropErr != nil {
				logger.Warnf("Failed to roll back history for %s: %v", item.ID, dropErr)
			}
		}
		return "", fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}
	if err := os.Remove(srcAbs); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to delete original %s: %v", item.Path, err)
	}

	p.propagate(ctx, item, converted, job.Options.ReplaceURLs, job.Options.FlushCache)
	return converted.Path, nil
}

// Revert restores an item's original and points references back at it
func (p *Pipeline) Revert(ctx context.Context, itemID string) (backup.RevertResult, error) {
	before, getErr := p.Library.Get(ctx, itemID)
	res, err := p.Backups.Revert(ctx, itemID)
	if err != nil {
		return res, err
	}
	after, err := p.Library.Get(ctx, itemID)
	if err != nil || getErr != nil {
		logger.Warnf("Revert %s: cannot propagate path change", itemID)
		return res, nil
	}
	p.propagate(ctx, before, after, true, true)
	return res, nil
}

// Rename moves an item's file and propagates the new address
func (p *Pipeline) Rename(ctx context.Context, itemID, filename string) (models.MediaItem, error) {
	before, after, err := p.Library.Rename(ctx, itemID, filename)
	if err != nil {
		return models.MediaItem{}, err
	}
	if before.Path != after.Path {
		p.propagate(ctx, before, after, true, true)
	}
	return after, nil
}

// propagate records redirects for every moved file, then rewrites stored
// references and purges caches when asked to. Failures here are logged; the
// file change itself has already been committed.
func (p *Pipeline) propagate(ctx context.Context, before, after models.MediaItem, replaceURLs, flushCache bool) {
	pairs := pathPairs(before, after)
	var urls []string
	for _, pair := range pairs {
		oldURL, newURL := p.Library.URL(pair[0]), p.Library.URL(pair[1])
		urls = append(urls, oldURL, newURL)

		if p.Redirects != nil {
			if err := p.Redirects.Add(rewrite.PathOf(oldURL), rewrite.PathOf(newURL)); err != nil {
				logger.Warnf("Failed to record redirect %s -> %s: %v", oldURL, newURL, err)
			}
		}
		if replaceURLs && p.Rewriter != nil {
			n, err := p.Rewriter.Rewrite(ctx, oldURL, newURL)
			if err != nil {
				logger.Warnf("URL rewrite %s -> %s failed: %v", oldURL, newURL, err)
			} else if n > 0 {
				logger.Infof("Rewrote %s -> %s in %d record(s)", oldURL, newURL, n)
			}
		}
	}
	if flushCache && p.Purgers != nil {
		ran := p.Purgers.Purge(ctx, after.ID, urls)
		logger.Debugf("Purged caches for item %s: %v", after.ID, ran)
	}
}

// pathPairs maps the main file and each size variant of before onto after.
// Variants are matched by their "-WxH" suffix.
func pathPairs(before, after models.MediaItem) [][2]string {
	pairs := [][2]string{{before.Path, after.Path}}
	afterVariants := make(map[string]string, len(after.Variants))
	for _, v := range after.Variants {
		afterVariants[variantSuffix(after.Path, v)] = v
	}
	for _, v := range before.Variants {
		if nv, ok := afterVariants[variantSuffix(before.Path, v)]; ok && nv != v {
			pairs = append(pairs, [2]string{v, nv})
		}
	}
	return pairs
}

func variantSuffix(main, variant string) string {
	stem := strings.TrimSuffix(main, path.Ext(main))
	return strings.TrimPrefix(strings.TrimSuffix(variant, path.Ext(variant)), stem)
}

// IsRevertNotFound reports revert errors that map to 404
func IsRevertNotFound(err error) bool {
	return errors.Is(err, backup.ErrNotFound) || errors.Is(err, backup.ErrBackupMissing)
}
