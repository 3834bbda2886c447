package backupbackends

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"

	"mediagent/logger"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores backups in a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS expects bucket and a base64 service account key in credentialsJSON
func NewGCS(ctx context.Context, accessInfo map[string]string) (*GCS, error) {
	bucketName := accessInfo["bucket"]
	if bucketName == "" || accessInfo["credentialsJSON"] == "" {
		return nil, fmt.Errorf("missing required accessInfo keys: bucket, credentialsJSON")
	}
	credentialsJSON, err := base64.StdEncoding.DecodeString(accessInfo["credentialsJSON"])
	if err != nil {
		return nil, fmt.Errorf("decode credentialsJSON: %w", err)
	}
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
		prefix: accessInfo["prefix"],
	}, nil
}

func (g *GCS) Name() string { return "gcs" }

func (g *GCS) object(key string) *storage.ObjectHandle {
	if g.prefix != "" {
		key = path.Join(g.prefix, key)
	}
	return g.bucket.Object(key)
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader) error {
	wc := g.object(key).NewWriter(ctx)
	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return fmt.Errorf("io.Copy: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("Writer.Close: %w", err)
	}
	logger.Debugf("Uploaded backup '%s' to bucket '%s'", key, g.name)
	return nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("Object.NewReader: %w", err)
	}
	return rc, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("Object.Delete: %w", err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Object.Attrs: %w", err)
	}
	return true, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
