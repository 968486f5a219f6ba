package simpleassets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkSize matches the GridFS default of 255 KiB
const DefaultChunkSize = 255 * 1024

const defaultContentType = "application/octet-stream"

// UploadRequest describes an asset to be streamed into the store
type UploadRequest struct {
	FileName    string
	ContentType string
	Reader      io.Reader
	Fields      map[string]string
}

// BlobStore streams assets into fixed-size chunks. An asset becomes visible
// only when its metadata document is written, after its last chunk.
type BlobStore struct {
	chunks    ChunkStore
	uploads   UploadStore
	index     *MetadataIndex
	allocator *Allocator
	chunkSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewBlobStore creates a blob store over the given stores
func NewBlobStore(chunks ChunkStore, uploads UploadStore, index *MetadataIndex, allocator *Allocator, chunkSize int) *BlobStore {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BlobStore{
		chunks:    chunks,
		uploads:   uploads,
		index:     index,
		allocator: allocator,
		chunkSize: chunkSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Upload reserves an id, writes the stream chunk by chunk and commits the
// metadata document. On any failure before the commit the chunks written so
// far are removed and nothing becomes visible.
//
// The reservation arbitrates between the upload and CollectOrphans: the
// metadata document is written only after the reservation moved from pending
// to committing, and the collector claims pending reservations with the same
// conditional transition. Whoever loses the transition backs off.
func (b *BlobStore) Upload(ctx context.Context, req UploadRequest) (*AssetMetadata, error) {
	if req.Reader == nil {
		return nil, missingField("file")
	}
	fields := nonEmpty(req.Fields)
	if err := b.index.ValidateFields(fields); err != nil {
		return nil, err
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	upload, err := AllocateAndInsert(ctx, b.allocator, func(id uuid.UUID) *Upload {
		return &Upload{ID: id, Status: UploadStatusPending, StartedAt: b.now().UTC()}
	}, b.uploads.CreateUpload)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve asset id: %w", err)
	}
	id := upload.ID

	length, count, err := b.writeChunks(ctx, id, req.Reader)
	if err != nil {
		b.abort(ctx, id, err)
		return nil, &AssetError{AssetID: id, Op: "upload", Err: err}
	}

	now := b.now().UTC()
	meta := &AssetMetadata{
		ID:          id,
		FileName:    req.FileName,
		ContentType: contentType,
		Length:      length,
		ChunkSize:   b.chunkSize,
		ChunkCount:  count,
		UploadedAt:  now,
		UpdatedAt:   now,
		Fields:      fields,
	}
	if err := ctx.Err(); err != nil {
		b.abort(ctx, id, err)
		return nil, &AssetError{AssetID: id, Op: "upload", Err: err}
	}

	if err := b.uploads.TransitionUpload(ctx, id, UploadStatusCommitting, b.now().UTC(), UploadStatusPending); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			b.logger.Warn("upload reclaimed before commit", "asset_id", id)
			b.dropReclaimed(context.WithoutCancel(ctx), id)
			return nil, &AssetError{AssetID: id, Op: "commit", Err: ErrUploadReclaimed}
		}
		b.abort(ctx, id, err)
		return nil, &AssetError{AssetID: id, Op: "commit", Err: err}
	}

	if err := b.index.Put(ctx, meta); err != nil {
		b.abort(ctx, id, err)
		return nil, &AssetError{AssetID: id, Op: "commit", Err: err}
	}

	if err := b.uploads.TransitionUpload(context.WithoutCancel(ctx), id, UploadStatusCommitted, b.now().UTC(), UploadStatusCommitting); err != nil {
		b.logger.Warn("failed to mark upload committed", "asset_id", id, "error", err)
	}
	return meta, nil
}

// dropReclaimed removes chunks written after the collector claimed the
// upload. When that fails a collecting reservation is left for the next run.
func (b *BlobStore) dropReclaimed(ctx context.Context, id uuid.UUID) {
	err := b.chunks.DeleteChunks(ctx, id)
	if err == nil {
		return
	}
	b.logger.Warn("failed to remove chunks of reclaimed upload", "asset_id", id, "error", err)
	now := b.now().UTC()
	err = b.uploads.CreateUpload(ctx, &Upload{ID: id, Status: UploadStatusCollecting, StartedAt: now, UpdatedAt: now})
	if err != nil && !errors.Is(err, ErrConflict) {
		b.logger.Warn("failed to keep reservation of reclaimed upload", "asset_id", id, "error", err)
	}
}

func (b *BlobStore) writeChunks(ctx context.Context, id uuid.UUID, r io.Reader) (int64, int, error) {
	buf := make([]byte, b.chunkSize)
	var length int64
	seq := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := b.chunks.PutChunk(ctx, id, seq, buf[:n]); err != nil {
				return 0, 0, err
			}
			seq++
			length += int64(n)
		}
		switch {
		case readErr == nil:
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return length, seq, nil
		default:
			return 0, 0, fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}
}

// abort reclaims the chunks and reservation of a failed upload. Cleanup runs
// even when ctx is already cancelled. The reservation is claimed first so a
// concurrent collector never works on the same chunks; failures are only
// logged and leave the claimed reservation to CollectOrphans.
func (b *BlobStore) abort(ctx context.Context, id uuid.UUID, cause error) {
	ctx = context.WithoutCancel(ctx)
	b.logger.Warn("upload aborted", "asset_id", id, "error", cause)
	err := b.uploads.TransitionUpload(ctx, id, UploadStatusCollecting, b.now().UTC(), UploadStatusPending, UploadStatusCommitting)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		b.logger.Warn("failed to claim aborted upload", "asset_id", id, "error", err)
		return
	}
	if err := b.chunks.DeleteChunks(ctx, id); err != nil {
		b.logger.Warn("failed to remove chunks of aborted upload", "asset_id", id, "error", err)
		return
	}
	if err := b.uploads.DeleteUpload(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		b.logger.Warn("failed to remove reservation of aborted upload", "asset_id", id, "error", err)
	}
}

// Download resolves the asset metadata and returns a reader that fetches the
// chunks lazily in ascending order. The caller must close the reader.
func (b *BlobStore) Download(ctx context.Context, id uuid.UUID) (*AssetMetadata, io.ReadCloser, error) {
	meta, err := b.index.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return meta, newChunkReader(ctx, b.chunks, meta), nil
}

// Stat returns the metadata of a committed asset
func (b *BlobStore) Stat(ctx context.Context, id uuid.UUID) (*AssetMetadata, error) {
	return b.index.Get(ctx, id)
}

// Delete hides the asset by removing its metadata document, then removes its
// chunks and reservation. The reservation is marked deleting before the
// metadata goes away, so chunks left behind by a failed delete are still
// found by CollectOrphans. A second delete of the same id returns
// ErrAssetNotFound.
func (b *BlobStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := b.index.Get(ctx, id); err != nil {
		return err
	}
	if err := b.markDeleting(ctx, id); err != nil {
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}
	if err := b.index.Delete(ctx, id); err != nil {
		return err
	}
	if err := b.chunks.DeleteChunks(ctx, id); err != nil {
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}
	if err := b.uploads.DeleteUpload(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}
	return nil
}

func (b *BlobStore) markDeleting(ctx context.Context, id uuid.UUID) error {
	now := b.now().UTC()
	err := b.uploads.TransitionUpload(ctx, id, UploadStatusDeleting, now,
		UploadStatusCommitted, UploadStatusCommitting, UploadStatusDeleting)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	// Assets committed before reservations were kept have none
	return b.uploads.CreateUpload(ctx, &Upload{ID: id, Status: UploadStatusDeleting, StartedAt: now, UpdatedAt: now})
}

// UpdateMetadata merges descriptive fields; the chunks are never touched
func (b *BlobStore) UpdateMetadata(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	return b.index.Update(ctx, id, nonEmpty(fields))
}

// List enumerates committed assets
func (b *BlobStore) List(ctx context.Context) iter.Seq2[*AssetMetadata, error] {
	return b.index.List(ctx)
}

// CollectOrphans reclaims the chunks of uploads and deletes whose reservation
// has not moved since the cutoff. Pending uploads are claimed before their
// chunks are touched; an upload that already moved on keeps its chunks. It
// returns the number of reclaimed uploads.
func (b *BlobStore) CollectOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := b.uploads.ListStaleUploads(ctx, b.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale uploads: %w", err)
	}

	reclaimed := 0
	for _, upload := range stale {
		ok, err := b.claimStale(ctx, upload)
		if err != nil {
			return reclaimed, &AssetError{AssetID: upload.ID, Op: "collect", Err: err}
		}
		if !ok {
			continue
		}
		if err := b.chunks.DeleteChunks(ctx, upload.ID); err != nil {
			return reclaimed, &AssetError{AssetID: upload.ID, Op: "collect", Err: err}
		}
		if err := b.uploads.DeleteUpload(ctx, upload.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return reclaimed, &AssetError{AssetID: upload.ID, Op: "collect", Err: err}
		}
		b.logger.Info("reclaimed orphaned upload", "asset_id", upload.ID, "status", upload.Status, "updated_at", upload.UpdatedAt)
		reclaimed++
	}
	return reclaimed, nil
}

// claimStale decides whether the chunks of a stale reservation may be removed
func (b *BlobStore) claimStale(ctx context.Context, upload *Upload) (bool, error) {
	now := b.now().UTC()
	switch upload.Status {
	case UploadStatusPending:
		return b.claim(ctx, upload.ID, now, UploadStatusPending)

	case UploadStatusCollecting:
		return true, nil

	case UploadStatusDeleting:
		if err := b.index.Delete(ctx, upload.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return false, err
		}
		return true, nil

	case UploadStatusCommitting:
		committed, err := b.hasMetadata(ctx, upload.ID)
		if err != nil || committed {
			if committed {
				err = b.restoreCommitted(ctx, upload.ID, now, UploadStatusCommitting)
			}
			return false, err
		}
		ok, err := b.claim(ctx, upload.ID, now, UploadStatusCommitting)
		if err != nil || !ok {
			return false, err
		}
		// The commit may have landed between the check and the claim
		committed, err = b.hasMetadata(ctx, upload.ID)
		if err != nil || committed {
			if committed {
				err = b.restoreCommitted(ctx, upload.ID, now, UploadStatusCollecting)
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (b *BlobStore) claim(ctx context.Context, id uuid.UUID, now time.Time, from UploadStatus) (bool, error) {
	err := b.uploads.TransitionUpload(ctx, id, UploadStatusCollecting, now, from)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *BlobStore) restoreCommitted(ctx context.Context, id uuid.UUID, now time.Time, from UploadStatus) error {
	err := b.uploads.TransitionUpload(ctx, id, UploadStatusCommitted, now, from)
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (b *BlobStore) hasMetadata(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := b.index.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func nonEmpty(fields map[string]string) map[string]string {
	out := maps.Clone(fields)
	if out == nil {
		return map[string]string{}
	}
	maps.DeleteFunc(out, func(_, v string) bool { return v == "" })
	return out
}
