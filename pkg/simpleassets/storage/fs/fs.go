package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/chunkkey"
)

const backendName = "fs"

// Backend is a filesystem implementation of the simpleassets.ChunkStore interface
type Backend struct {
	baseDir string
	keys    chunkkey.Generator
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing chunks
	Layout  string // Chunk key layout: "flat" (default) or "sharded"
}

// New creates a new filesystem chunk backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	keys, err := chunkkey.NewGenerator(config.Layout)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: config.BaseDir, keys: keys}, nil
}

var _ simpleassets.ChunkStore = (*Backend)(nil)

// PutChunk writes the chunk to a temporary file, syncs it, renames it into
// place and syncs the directory
func (b *Backend) PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := b.keys.Key(assetID, seq)
	path := filepath.Join(b.baseDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return b.storageError(key, "put", fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*")
	if err != nil {
		return b.storageError(key, "put", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return b.storageError(key, "put", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return b.storageError(key, "put", err)
	}
	if err := tmp.Close(); err != nil {
		return b.storageError(key, "put", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return b.storageError(key, "put", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return b.storageError(key, "put", err)
	}
	return nil
}

// syncDir flushes a directory entry so a rename into it survives a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (b *Backend) GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error) {
	key := b.keys.Key(assetID, seq)
	data, err := os.ReadFile(filepath.Join(b.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, simpleassets.ErrNotFound
	}
	if err != nil {
		return nil, b.storageError(key, "get", err)
	}
	return data, nil
}

func (b *Backend) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	prefix := b.keys.Prefix(assetID)
	if err := os.RemoveAll(filepath.Join(b.baseDir, filepath.FromSlash(prefix))); err != nil {
		return b.storageError(prefix, "delete", err)
	}
	return nil
}

func (b *Backend) storageError(key, op string, err error) error {
	return &simpleassets.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}
