package config

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fenwicklabs/reservoir/blob"
	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/cache"
	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/db"
	"github.com/fenwicklabs/reservoir/errors"
)

// NewBlobStore builds the blob.Store named by cfg.Backend ("s3" or "mem",
// defaulting to "mem").
func NewBlobStore(ctx context.Context, cfg BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case "s3":
		return blob.NewS3Store(ctx, cfg.Bucket)
	case "", "mem":
		return blob.NewMemStore(), nil
	default:
		return nil, errors.Newf("blob: unknown backend %q", cfg.Backend)
	}
}

// NewCacheStore builds the cache.Store named by cfg.Backend ("redis" or
// "mem", defaulting to "mem").
func NewCacheStore(cfg CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		prefix := cfg.Prefix
		if prefix == "" {
			prefix = "reservoir:account:"
		}
		return cache.NewRedisStore(client, prefix), nil
	case "", "mem":
		return cache.NewMemStore(), nil
	default:
		return nil, errors.Newf("cache: unknown backend %q", cfg.Backend)
	}
}

// NewBroker dials the AMQP broker described by cfg.
func NewBroker(cfg BrokerConfig) (broker.Broker, error) {
	return broker.Dial(cfg.ToBrokerConfig())
}

// NewCatalogStore opens the SQLite database described by cfg, runs
// pending migrations, and wraps it as a catalog.Store.
func NewCatalogStore(cfg DatabaseConfig, log *zap.SugaredLogger) (catalog.Store, error) {
	conn, err := db.OpenWithMigrations(cfg.Path, log)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog database")
	}
	return catalog.NewSQLiteStore(conn), nil
}
