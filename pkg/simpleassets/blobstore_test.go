package simpleassets_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/memory"
)

// gatedReader serves limit bytes, then blocks until release is closed
type gatedReader struct {
	r       io.Reader
	limit   int
	served  int
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedReader(content []byte, limit int) *gatedReader {
	return &gatedReader{
		r:       bytes.NewReader(content),
		limit:   limit,
		paused:  make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.served >= g.limit {
		g.once.Do(func() { close(g.paused) })
		<-g.release
	} else if len(p) > g.limit-g.served {
		p = p[:g.limit-g.served]
	}
	n, err := g.r.Read(p)
	g.served += n
	return n, err
}

type uploadResult struct {
	meta *simpleassets.AssetMetadata
	err  error
}

// startGatedUpload runs an upload in the background and returns once the
// reader is paused, together with the id of the in-flight reservation.
func startGatedUpload(t *testing.T, env *testEnv, reader *gatedReader) (uuid.UUID, <-chan uploadResult) {
	t.Helper()
	done := make(chan uploadResult, 1)
	go func() {
		meta, err := env.svc.UploadAsset(context.Background(), simpleassets.UploadRequest{
			FileName: "slow.bin",
			Reader:   reader,
			Fields:   validFields(),
		})
		done <- uploadResult{meta: meta, err: err}
	}()

	select {
	case <-reader.paused:
	case res := <-done:
		t.Fatalf("upload finished before pausing: %v", res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the pause")
	}

	open, err := env.repo.ListStaleUploads(context.Background(), env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, simpleassets.UploadStatusPending, open[0].Status)
	return open[0].ID, done
}

func waitUpload(t *testing.T, done <-chan uploadResult) uploadResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
		return uploadResult{}
	}
}

func TestUpload_InvisibleWhileChunksArrive(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	content := randomBytes(t, 5*testChunkSize)
	reader := newGatedReader(content, 2*testChunkSize)

	id, done := startGatedUpload(t, env, reader)

	assert.Equal(t, 2, env.chunks.ChunkCount(id))
	_, err := env.svc.GetAsset(ctx, id)
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
	_, _, err = env.svc.DownloadAsset(ctx, id)
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
	for meta, err := range env.svc.ListAssets(ctx) {
		require.NoError(t, err)
		t.Errorf("asset %s listed before commit", meta.ID)
	}

	close(reader.release)
	res := waitUpload(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, id, res.meta.ID)

	_, data := download(t, env, id)
	assert.Equal(t, content, data)

	stale, err := env.repo.ListStaleUploads(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale, "committed reservations are never stale")
}

func TestCollectOrphans_DuringUpload(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	reader := newGatedReader(randomBytes(t, 5*testChunkSize), 2*testChunkSize)

	id, done := startGatedUpload(t, env, reader)

	env.clock.Advance(2 * time.Hour)
	n, err := env.svc.CollectOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, env.chunks.ChunkCount(id))

	close(reader.release)
	res := waitUpload(t, done)
	require.ErrorIs(t, res.err, simpleassets.ErrUploadReclaimed)
	assert.Nil(t, res.meta)

	var assetErr *simpleassets.AssetError
	require.ErrorAs(t, res.err, &assetErr)
	assert.Equal(t, id, assetErr.AssetID)
	assertNotVisible(t, env, id)

	stale, err := env.repo.ListStaleUploads(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestCollectOrphans_StalledCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata written", func(t *testing.T) {
		env := setupTestService(t)
		id := uuid.New()
		now := env.clock.Now()
		require.NoError(t, env.repo.CreateUpload(ctx, &simpleassets.Upload{ID: id, Status: simpleassets.UploadStatusCommitting, StartedAt: now}))
		require.NoError(t, env.chunks.PutChunk(ctx, id, 0, []byte("hello")))
		require.NoError(t, env.repo.CreateMetadata(ctx, &simpleassets.AssetMetadata{
			ID:         id,
			FileName:   "hello.txt",
			Length:     5,
			ChunkSize:  testChunkSize,
			ChunkCount: 1,
			UploadedAt: now,
			UpdatedAt:  now,
			Fields:     validFields(),
		}))

		env.clock.Advance(2 * time.Hour)
		n, err := env.svc.CollectOrphans(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, data := download(t, env, id)
		assert.Equal(t, []byte("hello"), data)

		stale, err := env.repo.ListStaleUploads(ctx, env.clock.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stale, "the reservation is marked committed")
	})

	t.Run("metadata missing", func(t *testing.T) {
		env := setupTestService(t)
		id := uuid.New()
		require.NoError(t, env.repo.CreateUpload(ctx, &simpleassets.Upload{ID: id, Status: simpleassets.UploadStatusCommitting, StartedAt: env.clock.Now()}))
		require.NoError(t, env.chunks.PutChunk(ctx, id, 0, []byte("hello")))

		env.clock.Advance(2 * time.Hour)
		n, err := env.svc.CollectOrphans(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assertNotVisible(t, env, id)
	})
}

// flakyChunkStore fails the next failDeletes calls to DeleteChunks
type flakyChunkStore struct {
	*memorystorage.Backend
	mu          sync.Mutex
	failDeletes int
}

func (f *flakyChunkStore) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	f.mu.Lock()
	fail := f.failDeletes > 0
	if fail {
		f.failDeletes--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("object store unavailable")
	}
	return f.Backend.DeleteChunks(ctx, assetID)
}

func TestDeleteAsset_FailedChunkRemovalIsCollected(t *testing.T) {
	backend := memorystorage.New()
	flaky := &flakyChunkStore{Backend: backend}
	env := setupTestService(t, simpleassets.WithChunkStore(flaky))
	env.chunks = backend
	ctx := context.Background()

	meta := upload(t, env, randomBytes(t, 3*testChunkSize))

	flaky.failDeletes = 1
	err := env.svc.DeleteAsset(ctx, meta.ID)
	require.Error(t, err)
	var assetErr *simpleassets.AssetError
	require.ErrorAs(t, err, &assetErr)
	assert.Equal(t, "delete", assetErr.Op)

	_, err = env.svc.GetAsset(ctx, meta.ID)
	assert.ErrorIs(t, err, simpleassets.ErrAssetNotFound)
	assert.ErrorIs(t, env.svc.DeleteAsset(ctx, meta.ID), simpleassets.ErrAssetNotFound)
	assert.Equal(t, 3, env.chunks.ChunkCount(meta.ID))

	n, err := env.svc.CollectOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "a recent delete is left alone")

	env.clock.Advance(48 * time.Hour)
	n, err = env.svc.CollectOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assertNotVisible(t, env, meta.ID)

	stale, err := env.repo.ListStaleUploads(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestDeleteAsset_ReleasesReservation(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	meta := upload(t, env, randomBytes(t, 2*testChunkSize))
	require.NoError(t, env.svc.DeleteAsset(ctx, meta.ID))
	assertNotVisible(t, env, meta.ID)

	err := env.repo.TransitionUpload(ctx, meta.ID, simpleassets.UploadStatusDeleting, env.clock.Now(), simpleassets.UploadStatusCommitted)
	assert.ErrorIs(t, err, simpleassets.ErrNotFound)
}
