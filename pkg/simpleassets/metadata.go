package simpleassets

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Default descriptive fields of an asset
var (
	DefaultRequiredFields = []string{"info", "address", "date", "title"}
	DefaultOptionalFields = []string{"author", "link"}
)

// MetadataIndex stores the metadata document kept 1:1 with every asset
type MetadataIndex struct {
	store    MetadataStore
	required []string
	now      func() time.Time
}

// NewMetadataIndex creates an index enforcing the given required fields
func NewMetadataIndex(store MetadataStore, required []string) *MetadataIndex {
	return &MetadataIndex{
		store:    store,
		required: append([]string(nil), required...),
		now:      time.Now,
	}
}

// ValidateFields fails with a MissingField ValidationError for the first
// required field that is absent or empty.
func (ix *MetadataIndex) ValidateFields(fields map[string]string) error {
	for _, name := range ix.required {
		if fields[name] == "" {
			return missingField(name)
		}
	}
	return nil
}

// Put creates the metadata document of an asset
func (ix *MetadataIndex) Put(ctx context.Context, meta *AssetMetadata) error {
	if meta.ID == uuid.Nil {
		return missingField("id")
	}
	if err := ix.ValidateFields(meta.Fields); err != nil {
		return err
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = ix.now().UTC()
	}
	doc := *meta
	doc.Fields = maps.Clone(meta.Fields)
	if err := ix.store.CreateMetadata(ctx, &doc); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Update merges the supplied fields into an existing document. Fields that are
// not supplied keep their value.
func (ix *MetadataIndex) Update(ctx context.Context, id uuid.UUID, fields map[string]string) error {
	if len(fields) == 0 {
		_, err := ix.store.GetMetadata(ctx, id)
		return err
	}
	return ix.store.MergeMetadataFields(ctx, id, maps.Clone(fields), ix.now().UTC())
}

// Get returns the metadata document of an asset
func (ix *MetadataIndex) Get(ctx context.Context, id uuid.UUID) (*AssetMetadata, error) {
	return ix.store.GetMetadata(ctx, id)
}

// Delete removes the metadata document of an asset
func (ix *MetadataIndex) Delete(ctx context.Context, id uuid.UUID) error {
	return ix.store.DeleteMetadata(ctx, id)
}

// List enumerates every metadata document. Each iteration re-queries the store.
func (ix *MetadataIndex) List(ctx context.Context) iter.Seq2[*AssetMetadata, error] {
	return ix.store.ListMetadata(ctx)
}
