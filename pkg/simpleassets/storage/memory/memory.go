package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Backend is an in-memory implementation of the simpleassets.ChunkStore interface
type Backend struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID]map[int][]byte
}

// New creates a new in-memory chunk backend
func New() *Backend {
	return &Backend{
		chunks: make(map[uuid.UUID]map[int][]byte),
	}
}

var _ simpleassets.ChunkStore = (*Backend)(nil)

// PutChunk stores a copy of data under (assetID, seq)
func (b *Backend) PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	asset, exists := b.chunks[assetID]
	if !exists {
		asset = make(map[int][]byte)
		b.chunks[assetID] = asset
	}
	asset[seq] = append([]byte(nil), data...)
	return nil
}

func (b *Backend) GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.chunks[assetID][seq]
	if !exists {
		return nil, simpleassets.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *Backend) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.chunks, assetID)
	return nil
}

// ChunkCount returns how many chunks are held for an asset
func (b *Backend) ChunkCount(assetID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.chunks[assetID])
}
