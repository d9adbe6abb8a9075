package core

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"queryengine/internal/blob"
	"queryengine/internal/infra/persistence/badger"
	"queryengine/internal/infra/persistence/memory"
	"queryengine/internal/infra/persistence/postgres"
	"queryengine/internal/infra/persistence/sqlite"
	"queryengine/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBadger   StorageDriver = "badger"   // embedded badger key-value store
)

// OpenBackend selects a backend from cfg. Defaults to sqlite when the driver
// is unset. logger receives the storage engine's own log output where the
// engine supports it; nil discards it.
func OpenBackend(ctx context.Context, cfg StorageConfig, logger *zap.Logger) (domain.Backend, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return nonNil(sqlite.NewStore(ctx, cfg.SQLitePath))
	case StoragePostgres:
		return nonNil(postgres.NewStore(ctx, cfg.PostgresDSN))
	case StorageBadger:
		bc := badger.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bc = badger.InMemoryConfig()
		}
		bc.Logger = logger
		return nonNil(badger.Open(bc))
	default:
		return nil, errors.Newf("unknown storage driver %s", driver)
	}
}

// nonNil drops the typed store on error so callers never see a non-nil
// interface holding a nil pointer.
func nonNil[T domain.Backend](store T, err error) (domain.Backend, error) {
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenService wires a Service from cfg: logger, metrics exporter and backend.
// Extra options are applied after the configured ones.
func OpenService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	logger, err := NewZapLogger(cfg.Log.JSON, cfg.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	metrics, err := NewMetricsRecorder(cfg.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	backend, err := OpenBackend(ctx, cfg.Storage, logger.Zap())
	if err != nil {
		return nil, err
	}
	logger.Debug("backend opened", "driver", cfg.Storage.Driver)
	base := []Option{WithLogger(logger), WithMetricsRecorder(metrics), WithPageSize(cfg.PageSize)}
	return NewService(backend, append(base, opts...)...), nil
}

// OpenBlobStore constructs the archive store described by cfg.
func OpenBlobStore(ctx context.Context, cfg BlobConfig) (blob.Store, error) {
	return blob.Open(ctx, blob.Options{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			PathStyle: cfg.S3PathStyle,
		},
	})
}
