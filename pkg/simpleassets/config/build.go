package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/repo/memory"
	repopg "github.com/tendant/simple-assets/pkg/simpleassets/repo/postgres"
	badgerstorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/badger"
	fsstorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/fs"
	memorystorage "github.com/tendant/simple-assets/pkg/simpleassets/storage/memory"
	s3storage "github.com/tendant/simple-assets/pkg/simpleassets/storage/s3"
)

// BuildService creates a Service instance from the server configuration. The
// returned cleanup function releases database pools and embedded stores.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (simpleassets.Service, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var options []simpleassets.Option

	// Set up repository
	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if pool != nil {
		closers = append(closers, pool.Close)
	}
	options = append(options, simpleassets.WithRepository(repo))

	// Set up chunk storage
	chunks, closeChunks, err := c.buildChunkStore(repo, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build chunk storage: %w", err)
	}
	if closeChunks != nil {
		closers = append(closers, closeChunks)
	}
	options = append(options, simpleassets.WithChunkStore(chunks))

	if c.EnableEventLogging {
		options = append(options, simpleassets.WithEventSink(simpleassets.NewLoggingEventSink(logger)))
	}

	options = append(options,
		simpleassets.WithLogger(logger),
		simpleassets.WithTokenConfig(c.TokenConfig()),
		simpleassets.WithLockoutPolicy(simpleassets.LockoutPolicy{
			Threshold: c.LockoutThreshold,
			Window:    c.LockoutWindow,
		}),
		simpleassets.WithChunkSize(c.ChunkSize),
		simpleassets.WithAllocationAttempts(c.AllocationMaxAttempts),
		simpleassets.WithRoleCacheTTL(c.RoleCacheTTL),
		simpleassets.WithMetadataFields(c.RequiredFields, c.OptionalFields),
	)

	svc, err := simpleassets.New(options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// buildRepository creates the document store named by DATABASE_URL and
// applies the schema for Postgres
func (c *ServerConfig) buildRepository(ctx context.Context) (simpleassets.Repository, *pgxpool.Pool, error) {
	if !c.UsesPostgres() {
		return memory.New(), nil, nil
	}

	pool, err := NewPostgresPool(ctx, c.DatabaseURL, c.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	if err := repopg.Migrate(ctx, pool, c.DBSchema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repopg.NewWithPool(pool), pool, nil
}

// buildChunkStore creates the chunk backend named by STORAGE_URL
func (c *ServerConfig) buildChunkStore(repo simpleassets.Repository, logger *slog.Logger) (simpleassets.ChunkStore, func(), error) {
	loc, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return nil, nil, err
	}

	switch loc.Kind {
	case StorageMemory:
		return memorystorage.New(), nil, nil

	case StorageFS:
		store, err := fsstorage.New(fsstorage.Config{BaseDir: loc.Path, Layout: c.StorageLayout})
		return store, nil, err

	case StorageS3:
		s3Config := s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 loc.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			Layout:                 c.StorageLayout,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		}
		if loc.Region != "" {
			s3Config.Region = loc.Region
		}
		if loc.Endpoint != "" {
			s3Config.Endpoint = loc.Endpoint
			s3Config.UsePathStyle = true
		}
		store, err := s3storage.New(s3Config)
		return store, nil, err

	case StorageBadger:
		store, err := badgerstorage.New(badgerstorage.Config{
			Directory: loc.Path,
			InMemory:  loc.Path == "",
			Logger:    logger,
			LogLevel:  slog.LevelWarn,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close badger", "error", err)
			}
		}, nil

	case StorageDatabase:
		chunks, ok := repo.(simpleassets.ChunkStore)
		if !ok {
			return nil, nil, errors.New("database:// requires a postgres repository")
		}
		return chunks, nil, nil
	}

	return nil, nil, fmt.Errorf("unsupported storage kind: %s", loc.Kind)
}

// NewPostgresPool connects to Postgres and pins every pooled connection to
// the schema. It fails when the database cannot be reached.
func NewPostgresPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, &simpleassets.ConfigurationError{Field: "DATABASE_URL", Reason: err.Error()}
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			// CREATE SCHEMA runs in Migrate; a missing schema only empties the path here
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}
