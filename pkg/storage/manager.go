package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrTooLarge is returned when a blob exceeds the configured size limit
var ErrTooLarge = errors.New("blob exceeds size limit")

// Blob describes stored content
type Blob struct {
	Hash string
	Path string
	Size int64
	// Existed is true when identical content was already on disk
	Existed bool
}

// Manager stores media content under hash-keyed paths
type Manager struct {
	outputDir string
	maxSize   int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a blob store rooted at outputDir. maxSize <= 0 means no limit.
func NewManager(outputDir string, maxSize int64) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{
		outputDir: outputDir,
		maxSize:   maxSize,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Put streams r into the store. Content is hashed while it is written to a
// temporary file; the file is then renamed to its hash-keyed path, or dropped
// when that path already holds the same content.
func (m *Manager) Put(r io.Reader) (Blob, error) {
	tmp, err := os.CreateTemp(m.outputDir, ".incoming-*")
	if err != nil {
		return Blob{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	sniff := &prefixWriter{limit: 512}
	src := r
	if m.maxSize > 0 {
		src = io.LimitReader(r, m.maxSize+1)
	}
	n, err := io.Copy(io.MultiWriter(tmp, h, sniff), src)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err != nil {
		return Blob{}, fmt.Errorf("failed to write blob data: %w", err)
	}
	if closeErr != nil {
		return Blob{}, fmt.Errorf("failed to close file: %w", closeErr)
	}
	if m.maxSize > 0 && n > m.maxSize {
		return Blob{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, m.maxSize)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	final := m.PathFor(hash, extensionFor(sniff.buf))

	unlock := m.lock(hash)
	defer unlock()

	if _, err := os.Stat(final); err == nil {
		return Blob{Hash: hash, Path: final, Size: n, Existed: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return Blob{}, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return Blob{}, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return Blob{Hash: hash, Path: final, Size: n}, nil
}

// PathFor returns the hash-keyed location for content with the given extension
func (m *Manager) PathFor(hash, ext string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(m.outputDir, prefix, hash+ext)
}

// Remove deletes a stored file. Missing files are not an error.
func (m *Manager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Count walks the store and returns the number of stored blobs
func (m *Manager) Count() (int, error) {
	n := 0
	err := filepath.WalkDir(m.outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && !strings.HasPrefix(d.Name(), ".incoming-") {
			n++
		}
		return nil
	})
	return n, err
}

// lock serializes writers of the same hash
func (m *Manager) lock(hash string) func() {
	m.mu.Lock()
	l, ok := m.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		m.locks[hash] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

type prefixWriter struct {
	buf   []byte
	limit int
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}

func extensionFor(head []byte) string {
	switch ct := http.DetectContentType(head); {
	case ct == "image/jpeg":
		return ".jpg"
	case ct == "image/png":
		return ".png"
	case ct == "image/gif":
		return ".gif"
	case ct == "image/webp":
		return ".webp"
	case ct == "video/mp4":
		return ".mp4"
	case ct == "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
