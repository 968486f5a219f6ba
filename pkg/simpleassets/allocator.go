package simpleassets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DefaultAllocationAttempts bounds the insert retries of an Allocator
const DefaultAllocationAttempts = 10

// Allocator generates random identifiers for new records and retries the
// insert when the identifier collides with an existing one.
type Allocator struct {
	MaxAttempts int
	NewID       func() uuid.UUID
}

// NewAllocator creates an allocator with the given attempt bound
func NewAllocator(maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAllocationAttempts
	}
	return &Allocator{MaxAttempts: maxAttempts, NewID: uuid.New}
}

// AllocateAndInsert builds a record for a fresh id and inserts it. An insert
// failing with ErrConflict is retried with a new id; any other error is
// returned as is. After MaxAttempts conflicts it returns ErrAllocationExhausted
// and nothing has been inserted.
func AllocateAndInsert[T any](ctx context.Context, a *Allocator, build func(id uuid.UUID) T, insert func(ctx context.Context, rec T) error) (T, error) {
	var zero T
	if a == nil {
		a = NewAllocator(DefaultAllocationAttempts)
	}
	newID := a.NewID
	if newID == nil {
		newID = uuid.New
	}

	for attempt := 1; attempt <= a.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		rec := build(newID())
		err := insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrConflict) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, a.MaxAttempts)
}
