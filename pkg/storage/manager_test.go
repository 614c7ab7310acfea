package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\x0D\x0A\x1A\x0A")

func TestPutStoresByHash(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 0)
	require.NoError(t, err)

	data := append(append([]byte{}, pngHeader...), []byte("pixels")...)
	blob, err := m.Put(bytes.NewReader(data))
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, blob.Hash)
	assert.Equal(t, filepath.Join(dir, want[:2], want+".png"), blob.Path)
	assert.Equal(t, int64(len(data)), blob.Size)
	assert.False(t, blob.Existed)

	content, err := os.ReadFile(blob.Path)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestPutCollapsesIdenticalContent(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	first, err := m.Put(strings.NewReader("same bytes"))
	require.NoError(t, err)
	second, err := m.Put(strings.NewReader("same bytes"))
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.True(t, second.Existed)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutConcurrentSameContent(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blob, err := m.Put(strings.NewReader("racing"))
			assert.NoError(t, err)
			paths[i] = blob.Path
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	n, err := m.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no temporary files are left behind")
}

func TestPutRejectsOversizedContent(t *testing.T) {
	m, err := NewManager(t.TempDir(), 4)
	require.NoError(t, err)

	_, err = m.Put(strings.NewReader("too long"))
	assert.ErrorIs(t, err, ErrTooLarge)

	n, err := m.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemove(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	blob, err := m.Put(strings.NewReader("bye"))
	require.NoError(t, err)

	require.NoError(t, m.Remove(blob.Path))
	assert.NoFileExists(t, blob.Path)
	assert.NoError(t, m.Remove(blob.Path), "removing twice is fine")
	assert.NoError(t, m.Remove(""))
}
