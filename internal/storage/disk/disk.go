package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"pkt.systems/booksden/internal/storage"
)

const docSuffix = ".json"

// Config captures the tunables for the disk backend.
type Config struct {
	Root string
}

// Store implements storage.Backend on the local filesystem. Every document is
// one JSON file at <root>/collections/<collection>/<id>.json, replaced
// atomically on write.
type Store struct {
	root    string
	dataDir string
	tmpDir  string
	closed  atomic.Bool
	docs    *storage.BlobCollections
}

// New initialises a disk-backed store rooted at cfg.Root.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("disk: root path required")
	}
	root := filepath.Clean(cfg.Root)
	dataDir := filepath.Join(root, "collections")
	tmpDir := filepath.Join(root, "tmp")
	for _, dir := range []string{dataDir, tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("disk: prepare directory %q: %w", dir, err)
		}
	}
	s := &Store{root: root, dataDir: dataDir, tmpDir: tmpDir}
	s.docs = storage.NewBlobCollections(s)
	return s, nil
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.root
}

// Collection returns the named collection.
func (s *Store) Collection(name string) storage.Collection {
	return s.docs.Collection(name)
}

// Ping verifies the data directory is still present.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return fmt.Errorf("disk: stat %q: %w", s.dataDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("disk: %q is not a directory", s.dataDir)
	}
	return nil
}

// Close marks the store closed; further calls fail with storage.ErrClosed.
func (s *Store) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}

func (s *Store) docPath(collection, id string) (string, error) {
	if err := storage.ValidateCollection(collection); err != nil {
		return "", err
	}
	if !storage.ValidID(id) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidID, id)
	}
	return filepath.Join(s.dataDir, collection, id+docSuffix), nil
}

// ListIDs implements storage.BlobStore.
func (s *Store) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollection(collection); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.dataDir, collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("disk: list %s: %w", collection, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, docSuffix)
		if storage.ValidID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Get implements storage.BlobStore.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	path, err := s.docPath(collection, id)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrBlobNotFound
		}
		return nil, fmt.Errorf("disk: read %s/%s: %w", collection, id, err)
	}
	return payload, nil
}

// Put implements storage.BlobStore.
func (s *Store) Put(ctx context.Context, collection, id string, payload []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	path, err := s.docPath(collection, id)
	if err != nil {
		return err
	}
	if err := s.writeBytesAtomic(path, payload); err != nil {
		return fmt.Errorf("disk: write %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete implements storage.BlobStore.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	path, err := s.docPath(collection, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrBlobNotFound
		}
		return fmt.Errorf("disk: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) writeBytesAtomic(dest string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.tmpDir, "booksden-doc-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := syncFile(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
