package chunkkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// seqWidth pads sequence numbers so lexical key order equals chunk order
const seqWidth = 8

// Generator defines the interface for chunk key layouts used by object backends
type Generator interface {
	// Prefix returns the key prefix shared by every chunk of an asset
	Prefix(assetID uuid.UUID) string

	// Key returns the object key of chunk seq of an asset
	Key(assetID uuid.UUID, seq int) string
}

// FlatGenerator keeps all chunks of an asset in one directory
// Layout: chunks/{asset-id}/{seq}
type FlatGenerator struct {
	Root string
}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{Root: "chunks"}
}

func (g *FlatGenerator) Prefix(assetID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/", g.Root, assetID)
}

func (g *FlatGenerator) Key(assetID uuid.UUID, seq int) string {
	return g.Prefix(assetID) + formatSeq(seq)
}

// ShardedGenerator spreads assets over Git-style shard directories
// Layout: chunks/ab/cd1234ef.../{seq}
type ShardedGenerator struct {
	Root string
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewShardedGenerator() *ShardedGenerator {
	return &ShardedGenerator{Root: "chunks", ShardLength: 2}
}

func (g *ShardedGenerator) Prefix(assetID uuid.UUID) string {
	id := strings.ReplaceAll(assetID.String(), "-", "")
	n := g.ShardLength
	if n <= 0 || n >= len(id) {
		n = 2
	}
	return fmt.Sprintf("%s/%s/%s/", g.Root, id[:n], id[n:])
}

func (g *ShardedGenerator) Key(assetID uuid.UUID, seq int) string {
	return g.Prefix(assetID) + formatSeq(seq)
}

// NewGenerator returns the generator for a named layout: "flat" or "sharded"
func NewGenerator(layout string) (Generator, error) {
	switch layout {
	case "", "flat":
		return NewFlatGenerator(), nil
	case "sharded":
		return NewShardedGenerator(), nil
	}
	return nil, fmt.Errorf("unknown chunk key layout %q", layout)
}

func formatSeq(seq int) string {
	return fmt.Sprintf("%0*d", seqWidth, seq)
}
