package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/chunkkey"
)

const backendName = "badger"

// Config options for the Badger backend
type Config struct {
	Directory string // Database directory; ignored when InMemory is set
	InMemory  bool
	Logger    *slog.Logger
	LogLevel  slog.Level
}

// Backend stores chunks in an embedded Badger key-value database
type Backend struct {
	db     *badger.DB
	keys   chunkkey.Generator
	logger *slog.Logger
}

// New opens (or creates) the Badger database
func New(config Config) (*Backend, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Directory == "" {
			return nil, errors.New("badger directory is required")
		}
		if err := os.MkdirAll(config.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(config.Directory)
	}

	badgerLogLevel := badger.INFO
	if config.LogLevel <= slog.LevelDebug {
		badgerLogLevel = badger.DEBUG
	} else if config.LogLevel <= slog.LevelInfo {
		badgerLogLevel = badger.INFO
	} else if config.LogLevel <= slog.LevelWarn {
		badgerLogLevel = badger.WARNING
	} else {
		badgerLogLevel = badger.ERROR
	}

	// A chunk must be on disk before PutChunk returns
	opts = opts.
		WithSyncWrites(!config.InMemory).
		WithLogger(newLogger(config.Logger.WithGroup("badger"))).
		WithLoggingLevel(badgerLogLevel)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Backend{db: db, keys: chunkkey.NewFlatGenerator(), logger: config.Logger}, nil
}

var _ simpleassets.ChunkStore = (*Backend)(nil)

// Close flushes and closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) PutChunk(ctx context.Context, assetID uuid.UUID, seq int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := b.keys.Key(assetID, seq)
	value := append([]byte(nil), data...)
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return b.storageError(key, "put", err)
	}
	return nil
}

func (b *Backend) GetChunk(ctx context.Context, assetID uuid.UUID, seq int) ([]byte, error) {
	key := b.keys.Key(assetID, seq)
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, simpleassets.ErrNotFound
	}
	if err != nil {
		return nil, b.storageError(key, "get", err)
	}
	return value, nil
}

// DeleteChunks collects every key under the asset prefix and removes them in a write batch
func (b *Backend) DeleteChunks(ctx context.Context, assetID uuid.UUID) error {
	prefix := []byte(b.keys.Prefix(assetID))

	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return b.storageError(string(prefix), "list", err)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return b.storageError(string(key), "delete", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return b.storageError(string(prefix), "delete", err)
	}
	return nil
}

func (b *Backend) storageError(key, op string, err error) error {
	return &simpleassets.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger
type badgerLoggerAdapter struct {
	slogger *slog.Logger
}

func (l *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	l.slogger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	l.slogger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	l.slogger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	l.slogger.Debug(fmt.Sprintf(format, args...))
}

func newLogger(slogger *slog.Logger) badger.Logger {
	return &badgerLoggerAdapter{slogger: slogger}
}
