package simpleassets

import (
	"context"
	"fmt"
	"io"
)

// chunkReader yields the bytes of an asset by fetching one chunk at a time
type chunkReader struct {
	ctx    context.Context
	chunks ChunkStore
	meta   *AssetMetadata

	next   int
	buf    []byte
	read   int64
	closed bool
}

func newChunkReader(ctx context.Context, chunks ChunkStore, meta *AssetMetadata) *chunkReader {
	return &chunkReader{ctx: ctx, chunks: chunks, meta: meta}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	for len(r.buf) == 0 {
		if r.next >= r.meta.ChunkCount {
			if r.read != r.meta.Length {
				return 0, r.corrupt(fmt.Errorf("read %d bytes, expected %d", r.read, r.meta.Length))
			}
			return 0, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}
		data, err := r.chunks.GetChunk(r.ctx, r.meta.ID, r.next)
		if err != nil {
			return 0, &AssetError{AssetID: r.meta.ID, Op: "download", Err: fmt.Errorf("chunk %d: %w", r.next, err)}
		}
		if err := r.checkChunk(r.next, len(data)); err != nil {
			return 0, err
		}
		r.buf = data
		r.next++
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	r.read += int64(n)
	return n, nil
}

// checkChunk verifies every chunk but the last is full and the last one holds
// the remainder.
func (r *chunkReader) checkChunk(seq, size int) error {
	want := r.meta.ChunkSize
	if seq == r.meta.ChunkCount-1 {
		want = int(r.meta.Length - int64(seq)*int64(r.meta.ChunkSize))
	}
	if size != want {
		return r.corrupt(fmt.Errorf("chunk %d has %d bytes, expected %d", seq, size, want))
	}
	return nil
}

func (r *chunkReader) corrupt(err error) error {
	return &AssetError{AssetID: r.meta.ID, Op: "download", Err: err}
}

func (r *chunkReader) Close() error {
	r.closed = true
	r.buf = nil
	return nil
}
