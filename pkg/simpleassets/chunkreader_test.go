package simpleassets

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkMap is an in-package ChunkStore used to corrupt chunk layouts directly
type chunkMap map[int][]byte

func (c chunkMap) PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error {
	c[seq] = data
	return nil
}

func (c chunkMap) GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error) {
	data, ok := c[seq]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (c chunkMap) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	clear(c)
	return nil
}

func TestChunkReader_ReassemblesInOrder(t *testing.T) {
	chunks := chunkMap{0: []byte("abcd"), 1: []byte("efgh"), 2: []byte("ij")}
	meta := &AssetMetadata{ID: uuid.New(), Length: 10, ChunkSize: 4, ChunkCount: 3}

	r := newChunkReader(context.Background(), chunks, meta)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij", string(data))
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestChunkReader_DetectsShortChunk(t *testing.T) {
	chunks := chunkMap{0: []byte("abc"), 1: []byte("efgh")}
	meta := &AssetMetadata{ID: uuid.New(), Length: 8, ChunkSize: 4, ChunkCount: 2}

	_, err := io.ReadAll(newChunkReader(context.Background(), chunks, meta))
	var assetErr *AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, meta.ID, assetErr.AssetID)
}

func TestChunkReader_DetectsMissingChunk(t *testing.T) {
	chunks := chunkMap{0: []byte("abcd")}
	meta := &AssetMetadata{ID: uuid.New(), Length: 6, ChunkSize: 4, ChunkCount: 2}

	_, err := io.ReadAll(newChunkReader(context.Background(), chunks, meta))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChunkReader_Empty(t *testing.T) {
	meta := &AssetMetadata{ID: uuid.New(), Length: 0, ChunkSize: 4, ChunkCount: 0}

	data, err := io.ReadAll(newChunkReader(context.Background(), chunkMap{}, meta))
	require.NoError(t, err)
	assert.Empty(t, data)
}
