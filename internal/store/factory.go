package store

import (
	"fmt"

	"reqguard/internal/models"
)

// Factory provides a centralized way to create counter stores based on
// configuration, so backends can be swapped without code changes. This is
// the seam for horizontal scaling: a shared backend (redis, postgres)
// satisfies the same contract as the in-process baseline.
type Factory struct{}

// NewFactory creates a new store factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a counter store based on the provided configuration.
// Supported backends:
//   - memory: in-process store, lost on restart (the baseline)
//   - redis: shared store with server-side expiry
//   - postgres: durable store for multi-node deployments
//   - sqlite: durable single-node store
func (f *Factory) Create(config models.StoreConfig) (CounterStore, error) {
	storeConfig := Config{
		Type:          config.Type,
		RedisAddr:     config.Redis.Addr,
		RedisPassword: config.Redis.Password,
		RedisDB:       config.Redis.DB,
		RedisPoolSize: config.Redis.PoolSize,
		KeyPrefix:     config.Redis.KeyPrefix,
		DSN:           config.Database.DSN,
		MaxOpenConns:  config.Database.MaxOpenConns,
		MaxIdleConns:  config.Database.MaxIdleConns,
	}

	switch config.Type {
	case models.StoreTypeMemory:
		return NewMemoryStore(nil), nil
	case models.StoreTypeRedis:
		return NewRedisStore(storeConfig)
	case models.StoreTypePostgres:
		return NewPostgresStore(storeConfig)
	case models.StoreTypeSQLite:
		return NewSQLiteStore(storeConfig)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// SupportedBackends returns all supported store backend types.
func (f *Factory) SupportedBackends() []string {
	return []string{models.StoreTypeMemory, models.StoreTypeRedis, models.StoreTypePostgres, models.StoreTypeSQLite}
}
