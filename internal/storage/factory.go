package storage

import (
	"fmt"
	"sync"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/config"
)

// Factory builds a Storage from the service configuration. Adapters
// register a factory under their DATABASE_TYPE name at wiring time, which
// keeps this package free of driver imports.
type Factory func(cfg *config.Config) (Storage, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a storage adapter available under the given type name.
func Register(storageType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[storageType] = factory
}

// NewStorage creates the storage adapter selected by DATABASE_TYPE.
func NewStorage(cfg *config.Config) (Storage, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.DatabaseType]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
	return factory(cfg)
}
