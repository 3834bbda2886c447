package backupbackends

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, "local", map[string]string{"baseDir": t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", store.Name())

	ok, err := store.Exists(ctx, "42/1-photo.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Open(ctx, "42/1-photo.jpg")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, store.Put(ctx, "42/1-photo.jpg", strings.NewReader("original bytes")))
	ok, err = store.Exists(ctx, "42/1-photo.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := store.Open(ctx, "42/1-photo.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "original bytes", string(data))

	require.NoError(t, store.Delete(ctx, "42/1-photo.jpg"))
	require.NoError(t, store.Delete(ctx, "42/1-photo.jpg"), "deleting twice is fine")
	ok, err = store.Exists(ctx, "42/1-photo.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	err = store.Put(context.Background(), "../outside", strings.NewReader("x"))
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalFailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Put(ctx, "k", failingReader{}))
	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewValidatesAccessInfo(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "s3", map[string]string{"bucket": "b"})
	assert.Error(t, err)
	_, err = New(ctx, "gcs", map[string]string{})
	assert.Error(t, err)
	_, err = New(ctx, "sftp", map[string]string{"host": "h", "user": "u"})
	assert.Error(t, err)
	_, err = New(ctx, "sftp", map[string]string{"host": "h", "user": "u", "remoteDir": "/b"})
	assert.Error(t, err, "no auth method")
	_, err = New(ctx, "ftp", nil)
	assert.Error(t, err)

	s, err := New(ctx, "s3", map[string]string{"bucket": "b", "accessKey": "a", "secretKey": "s", "endpoint": "http://127.0.0.1:9000"})
	require.NoError(t, err)
	assert.Equal(t, "s3", s.Name())

	sf, err := New(ctx, "sftp", map[string]string{"host": "h", "user": "u", "remoteDir": "/b", "password": "p"})
	require.NoError(t, err)
	assert.Equal(t, "sftp", sf.Name())
}
