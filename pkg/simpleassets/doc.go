// Package simpleassets provides token authentication and a chunked asset
// store with pluggable document and chunk backends.
//
// It exposes a single Service interface that authenticates credentials,
// issues and verifies bearer tokens, streams assets in and out of fixed-size
// chunks, and manages small structured records. Document stores (memory,
// Postgres) live under repo/ and chunk backends (memory, filesystem, S3,
// Badger, Postgres) under storage/ and repo/postgres.
//
// Visibility
//
// An asset exists for readers only once its metadata document is written,
// which happens after its last chunk is stored. Chunks are written under an
// id reserved by an upload record, so an id collision can never overwrite
// another asset's bytes. Reservations that never commit are reclaimed by
// CollectOrphans.
package simpleassets
