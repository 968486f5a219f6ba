package badger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleassets"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{InMemory: true, LogLevel: slog.LevelError})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerBackend_ChunkLifecycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	assetID := uuid.New()
	other := uuid.New()

	for seq, part := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, b.PutChunk(ctx, assetID, seq, []byte(part)))
	}
	require.NoError(t, b.PutChunk(ctx, other, 0, []byte("untouched")))

	data, err := b.GetChunk(ctx, assetID, 2)
	require.NoError(t, err)
	assert.Equal(t, "gamma", string(data))

	require.NoError(t, b.DeleteChunks(ctx, assetID))
	for seq := 0; seq < 3; seq++ {
		_, err := b.GetChunk(ctx, assetID, seq)
		assert.ErrorIs(t, err, simpleassets.ErrNotFound)
	}

	data, err = b.GetChunk(ctx, other, 0)
	require.NoError(t, err)
	assert.Equal(t, "untouched", string(data))
}

func TestBadgerBackend_DeleteNothing(t *testing.T) {
	b := newTestBackend(t)
	assert.NoError(t, b.DeleteChunks(context.Background(), uuid.New()))
}

func TestBadgerBackend_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	assetID := uuid.New()

	b, err := New(Config{Directory: dir, LogLevel: slog.LevelError})
	require.NoError(t, err)
	assert.True(t, b.db.Opts().SyncWrites, "chunks must be synced before PutChunk returns")
	require.NoError(t, b.PutChunk(ctx, assetID, 0, []byte("persisted")))
	require.NoError(t, b.Close())

	reopened, err := New(Config{Directory: dir, LogLevel: slog.LevelError})
	require.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.GetChunk(ctx, assetID, 0)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(data))
}

func TestBadgerBackend_LogLevels(t *testing.T) {
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		b, err := New(Config{InMemory: true, LogLevel: level})
		require.NoError(t, err)
		require.NoError(t, b.Close())
	}
}

func TestBadgerBackend_RequiresDirectory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
