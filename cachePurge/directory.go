package cachepurge

import (
	"context"
	"os"
	"path/filepath"
)

// DirectoryPurger removes static page-cache files named by URLKey, with any extension
type DirectoryPurger struct {
	dir string
}

func NewDirectoryPurger(dir string) *DirectoryPurger {
	return &DirectoryPurger{dir: dir}
}

func (d *DirectoryPurger) Name() string { return "directory" }

func (d *DirectoryPurger) Available(ctx context.Context) bool {
	if d.dir == "" {
		return false
	}
	info, err := os.Stat(d.dir)
	return err == nil && info.IsDir()
}

func (d *DirectoryPurger) Purge(ctx context.Context, itemID string, urls []string) error {
	for _, u := range urls {
		matches, err := filepath.Glob(filepath.Join(d.dir, URLKey(u)+"*"))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
