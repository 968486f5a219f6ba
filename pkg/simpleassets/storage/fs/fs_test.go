package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)

	ctx := context.Background()
	assetID := uuid.New()

	require.NoError(t, backend.PutChunk(ctx, assetID, 0, []byte("hello ")))
	require.NoError(t, backend.PutChunk(ctx, assetID, 1, []byte("fs")))

	got, err := backend.GetChunk(ctx, assetID, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello ", string(got))

	_, err = os.Stat(filepath.Join(tmp, "chunks", assetID.String(), "00000001"))
	assert.NoError(t, err)

	require.NoError(t, backend.DeleteChunks(ctx, assetID))
	_, err = os.Stat(filepath.Join(tmp, "chunks", assetID.String()))
	assert.True(t, os.IsNotExist(err), "expected chunk directory removed, stat err=%v", err)

	_, err = backend.GetChunk(ctx, assetID, 0)
	assert.ErrorIs(t, err, simpleassets.ErrNotFound)
}

func TestFSBackend_ShardedLayout(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp, Layout: "sharded"})
	require.NoError(t, err)

	ctx := context.Background()
	assetID := uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")
	require.NoError(t, backend.PutChunk(ctx, assetID, 0, []byte("x")))

	_, err = os.Stat(filepath.Join(tmp, "chunks", "98", "7fcdeb51a243d19f12345678901234", "00000000"))
	assert.NoError(t, err)
}

func TestFSBackend_OverwriteLeavesNoTempFiles(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)

	ctx := context.Background()
	assetID := uuid.New()
	require.NoError(t, backend.PutChunk(ctx, assetID, 0, []byte("first")))
	require.NoError(t, backend.PutChunk(ctx, assetID, 0, []byte("second")))

	entries, err := os.ReadDir(filepath.Join(tmp, "chunks", assetID.String()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	got, err := backend.GetChunk(ctx, assetID, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestSyncDir(t *testing.T) {
	assert.NoError(t, syncDir(t.TempDir()))
	assert.Error(t, syncDir(filepath.Join(t.TempDir(), "missing")))
}

func TestFSBackend_Config(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{BaseDir: t.TempDir(), Layout: "unknown"})
	assert.Error(t, err)
}
