package content

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("post:1:content", []byte("hello")))
	got, err := s.Get("post:1:content")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Delete("post:1:content"))
	_, err = s.Get("post:1:content")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.Put("", []byte("x")))
}

func TestScanCommitsOnlyChangedRecords(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("a", []byte("cat")))
	require.NoError(t, s.Put("b", []byte("dog")))

	n, err := s.Scan(context.Background(), func(key string, value []byte) ([]byte, bool) {
		if !bytes.Contains(value, []byte("cat")) {
			return nil, false
		}
		return bytes.ReplaceAll(value, []byte("cat"), []byte("lion")), true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := s.Get("a")
	b, _ := s.Get("b")
	assert.Equal(t, "lion", string(a))
	assert.Equal(t, "dog", string(b))
}
