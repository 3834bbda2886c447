package backupbackends

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotExist is returned by Open when the backup key is absent
var ErrNotExist = errors.New("backup object does not exist")

// Storage is a protected location for pre-conversion originals
type Storage interface {
	Name() string
	Put(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the backend named by kind from its access info.
// Recognised kinds: local, s3, gcs, sftp.
func New(ctx context.Context, kind string, accessInfo map[string]string) (Storage, error) {
	switch kind {
	case "", "local":
		return NewLocal(accessInfo["baseDir"])
	case "s3":
		return NewS3(accessInfo)
	case "gcs":
		return NewGCS(ctx, accessInfo)
	case "sftp":
		return NewSFTP(ctx, accessInfo)
	default:
		return nil, fmt.Errorf("unknown backup backend type: %s", kind)
	}
}
