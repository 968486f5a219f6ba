package config

import (
	"net/url"
	"strings"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// StorageKind names a chunk backend
type StorageKind string

const (
	StorageMemory   StorageKind = "memory"
	StorageFS       StorageKind = "file"
	StorageS3       StorageKind = "s3"
	StorageBadger   StorageKind = "badger"
	StorageDatabase StorageKind = "database"
)

// StorageLocation is a parsed STORAGE_URL
type StorageLocation struct {
	Kind StorageKind
	// Path is the directory for file:// and badger://; empty badger path means in-memory
	Path string
	// Bucket is the S3 bucket for s3://
	Bucket string
	// Region and Endpoint optionally override the S3 settings for s3://
	Region   string
	Endpoint string
}

// ParseStorageURL parses STORAGE_URL values:
//
//	memory://                      in-memory chunks (default)
//	file:///var/lib/assets         one file per chunk
//	s3://bucket?region=eu-west-1   S3 or an S3-compatible endpoint (&endpoint=http://minio:9000)
//	badger:///var/lib/assets       embedded Badger database; badger:// keeps it in memory
//	database://                    chunk table next to the metadata in Postgres
func ParseStorageURL(raw string) (StorageLocation, error) {
	if raw == "" || raw == "memory" {
		return StorageLocation{Kind: StorageMemory}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, &simpleassets.ConfigurationError{Field: "STORAGE_URL", Reason: err.Error()}
	}

	switch StorageKind(strings.ToLower(u.Scheme)) {
	case StorageMemory:
		return StorageLocation{Kind: StorageMemory}, nil
	case StorageFS:
		path := u.Host + u.Path
		if path == "" {
			return StorageLocation{}, &simpleassets.ConfigurationError{Field: "STORAGE_URL", Reason: "filesystem path cannot be empty"}
		}
		return StorageLocation{Kind: StorageFS, Path: path}, nil
	case StorageS3:
		if u.Host == "" {
			return StorageLocation{}, &simpleassets.ConfigurationError{Field: "STORAGE_URL", Reason: "S3 bucket name cannot be empty"}
		}
		q := u.Query()
		return StorageLocation{
			Kind:     StorageS3,
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}, nil
	case StorageBadger:
		return StorageLocation{Kind: StorageBadger, Path: u.Host + u.Path}, nil
	case StorageDatabase:
		return StorageLocation{Kind: StorageDatabase}, nil
	}

	return StorageLocation{}, &simpleassets.ConfigurationError{
		Field:  "STORAGE_URL",
		Reason: "use 'memory://', 'file://...', 's3://...', 'badger://...' or 'database://'",
	}
}
