package storage

import (
	"fmt"

	"github.com/XaviArnaus/janitor/internal/config"
)

const (
	BackendLocal  = "local"
	BackendAzure  = "azure"
	BackendSQLite = "sqlite"
)

// New builds the storage backend selected in the configuration
func New(cfg config.StorageConfig) (StorageInterface, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalStorage(cfg.BasePath)
	case BackendAzure:
		return NewAzureStorage(cfg.AzureAccount, cfg.AzureContainer, cfg.BasePath)
	case BackendSQLite:
		return NewSQLiteStorage(cfg.SQLiteFile)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
