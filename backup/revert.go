package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	backupbackends "mediagent/backupBackends"
	"mediagent/logger"
)

// RevertResult names the converted path that went away and the original path that came back
type RevertResult struct {
	ItemID        string
	ConvertedPath string
	OriginalPath  string
}

// Revert restores the original bytes of itemID from its backup.
func (s *Store) Revert(ctx context.Context, itemID string) (RevertResult, error) {
	entry, err := s.Get(itemID)
	if err != nil {
		return RevertResult{}, err
	}

	exists, err := s.storage.Exists(ctx, entry.BackupKey)
	if err != nil {
		return RevertResult{}, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	if !exists {
		return RevertResult{}, s.pruneMissing(itemID)
	}

	rc, err := s.storage.Open(ctx, entry.BackupKey)
	if errors.Is(err, backupbackends.ErrNotExist) {
		return RevertResult{}, s.pruneMissing(itemID)
	}
	if err != nil {
		return RevertResult{}, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	defer rc.Close()

	converted := entry.ConvertedPath
	if item, err := s.lib.Get(ctx, itemID); err == nil {
		converted = item.Path
	}

	originalAbs := s.lib.AbsPath(entry.OriginalPath)
	if err := restoreFile(rc, originalAbs); err != nil {
		return RevertResult{}, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	if _, err := s.lib.Replace(ctx, itemID, entry.OriginalPath); err != nil {
		if converted != entry.OriginalPath {
			os.Remove(originalAbs)
		}
		return RevertResult{}, fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	if converted != entry.OriginalPath {
		if err := os.Remove(s.lib.AbsPath(converted)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Revert %s: failed to remove converted file %s: %v", itemID, converted, err)
		}
	}
	if err := s.storage.Delete(ctx, entry.BackupKey); err != nil {
		logger.Warnf("Revert %s: failed to delete backup %s: %v", itemID, entry.BackupKey, err)
	}
	if err := s.remove(itemID); err != nil {
		return RevertResult{}, fmt.Errorf("failed to remove history entry: %w", err)
	}

	logger.Infof("Reverted item %s: %s -> %s", itemID, converted, entry.OriginalPath)
	return RevertResult{ItemID: itemID, ConvertedPath: converted, OriginalPath: entry.OriginalPath}, nil
}

func (s *Store) pruneMissing(itemID string) error {
	if err := s.remove(itemID); err != nil {
		return fmt.Errorf("failed to prune history entry: %w", err)
	}
	logger.Warnf("Revert %s: backup missing, history entry pruned", itemID)
	return ErrBackupMissing
}

// restoreFile writes r to dst through a temp file in the same directory
func restoreFile(r io.Reader, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".restore-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
