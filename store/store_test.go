package store

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distfs/dfserr"
)

func TestCASPathTransform(t *testing.T) {
	pathKey := CASPathTransform("mybestpictures")
	expectedPathName := filepath.Join("92", "5c", "97")
	expectedFileName := "43880760be19d52bb7327a82465092e48755a55c3245df190398a6dd32"

	assert.Equal(t, expectedPathName, pathKey.PathName)
	assert.Equal(t, expectedFileName, pathKey.FileName)
	assert.Len(t, pathKey.FileName, 58)
}

func newTestStore(t *testing.T) *Store {
	s := New(Opts{Root: t.TempDir()})
	t.Cleanup(func() { _ = s.Clear() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 20; i++ {
		key := "foo_" + string(rune('a'+i))
		data := []byte("some file bytes")

		require.False(t, s.Has(key))
		require.NoError(t, s.Store(key, bytes.NewReader(data)))
		require.True(t, s.Has(key))

		buf := new(bytes.Buffer)
		require.NoError(t, s.Get(key, buf))
		assert.Equal(t, data, buf.Bytes())

		require.NoError(t, s.Remove(key))
		assert.False(t, s.Has(key))
	}
}

func TestStoreGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Get("nope", io.Discard)
	require.Error(t, err)
	assert.True(t, dfserr.Is(err, dfserr.NotFound))
}

func TestStoreRemoveMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Remove("nope")
	require.Error(t, err)
	assert.True(t, dfserr.Is(err, dfserr.NotFound))
}

func TestStoreReaderGivesLiveHandle(t *testing.T) {
	s := newTestStore(t)
	data := []byte("reader contents")
	require.NoError(t, s.Store("key", bytes.NewReader(data)))

	rc, err := s.Reader("key")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStoreClearRemovesEverything(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Store("a", bytes.NewReader([]byte("1"))))
	require.NoError(t, s.Store("b", bytes.NewReader([]byte("2"))))

	require.NoError(t, s.Clear())

	assert.False(t, s.Has("a"))
	assert.False(t, s.Has("b"))
}

func TestStoreCount(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Store("a", bytes.NewReader([]byte("1"))))
	require.NoError(t, s.Store("b", bytes.NewReader([]byte("22"))))

	n, err = s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStoreFileSize(t *testing.T) {
	s := newTestStore(t)
	data := []byte("twelve bytes")
	require.NoError(t, s.Store("key", bytes.NewReader(data)))

	size, err := s.FileSize("key")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}
