// Package contentstore provides durable byte storage for uploaded image files,
// addressed by caller-supplied names. It defines the Store interface, a
// filesystem implementation used in production, and an in-memory implementation
// for tests. The store is append-only from the ingestion pipeline's point of
// view: a name is written once per upload, and two concurrent writes to the
// same name are rejected rather than interleaved.
package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound        = errors.New("stored file not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
	ErrInvalidFileName = errors.New("file name is not a plain name")
	ErrConcurrentWrite = errors.New("another upload is writing this file name")
)

// DefaultMaxFileSize caps uploads at 100 MB unless configured otherwise.
const DefaultMaxFileSize = 100 * 1024 * 1024

// Store is the Content Store consumed by the ingestion pipeline. Put returns
// the store-relative path under which the bytes were persisted; that path is
// what gets recorded on the File row and later fed to Get.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Exists(ctx context.Context, path string) bool
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Abs resolves a store-relative path to an absolute one, suitable for
	// handing to an external extractor process.
	Abs(path string) string
}

// checkName rejects empty names and anything that would escape the store root.
func checkName(name string) error {
	if name == "" {
		return ErrMissingFileName
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidFileName
	}
	return nil
}

// ---------------------------------------------------------------------------
// Filesystem implementation
// ---------------------------------------------------------------------------

// Dir stores files under a single root directory. Writes go to a temp file
// which is fsynced and renamed into place, so a file is either fully present
// or absent; extraction never observes a partial write.
type Dir struct {
	root    string
	maxSize int64

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewDir creates the root directory if needed and returns a Dir store.
// maxSize <= 0 selects DefaultMaxFileSize.
func NewDir(root string, maxSize int64) (*Dir, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Dir{
		root:     abs,
		maxSize:  maxSize,
		inFlight: make(map[string]struct{}),
	}, nil
}

func (d *Dir) acquire(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[name]; busy {
		return ErrConcurrentWrite
	}
	d.inFlight[name] = struct{}{}
	return nil
}

func (d *Dir) release(name string) {
	d.mu.Lock()
	delete(d.inFlight, name)
	d.mu.Unlock()
}

func (d *Dir) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := d.acquire(name); err != nil {
		return "", err
	}
	defer d.release(name)

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(r, d.maxSize+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if n > d.maxSize {
		tmp.Close()
		os.Remove(tmpName)
		return "", ErrFileTooLarge
	}

	// Durability before visibility: fsync the bytes, then rename into place.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.root, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return name, nil
}

func (d *Dir) Exists(_ context.Context, path string) bool {
	if checkName(path) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(d.root, path))
	return err == nil
}

func (d *Dir) Get(_ context.Context, path string) (io.ReadCloser, error) {
	if err := checkName(path); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(d.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open stored file: %w", err)
	}
	return f, nil
}

func (d *Dir) Abs(path string) string {
	return filepath.Join(d.root, path)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// Memory is a thread-safe in-memory Store for tests.
type Memory struct {
	maxSize int64

	mu       sync.Mutex
	files    map[string][]byte
	inFlight map[string]struct{}

	// PutErr, when set, makes every Put fail. Lets orchestrator tests force
	// the store-failure path.
	PutErr error
}

func NewMemory() *Memory {
	return &Memory{
		maxSize:  DefaultMaxFileSize,
		files:    make(map[string][]byte),
		inFlight: make(map[string]struct{}),
	}
}

func (m *Memory) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.PutErr != nil {
		return "", m.PutErr
	}

	m.mu.Lock()
	if _, busy := m.inFlight[name]; busy {
		m.mu.Unlock()
		return "", ErrConcurrentWrite
	}
	m.inFlight[name] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, name)
		m.mu.Unlock()
	}()

	data, err := io.ReadAll(io.LimitReader(r, m.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if int64(len(data)) > m.maxSize {
		return "", ErrFileTooLarge
	}

	m.mu.Lock()
	m.files[name] = data
	m.mu.Unlock()
	return name, nil
}

func (m *Memory) Exists(_ context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

func (m *Memory) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Abs(path string) string {
	return "/mem/" + path
}
