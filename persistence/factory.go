package persistence

import "fmt"

// NewResultStore creates a ResultStore based on the configuration
func NewResultStore(config StoreConfig) (ResultStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryResultStore(config), nil
	case StoreTypeRedis:
		return NewRedisResultStore(config)
	case StoreTypeDatabase:
		return NewSQLResultStore(config)
	default:
		return nil, fmt.Errorf("unsupported result store type: %s", config.Type)
	}
}
