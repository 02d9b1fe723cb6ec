package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/storage/badger"
	"github.com/ternarybob/entitle/internal/storage/flatfile"
)

// NewStorageManager opens the Badger database holding order history and keys
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Badger.Path == "" {
		return nil, fmt.Errorf("storage.badger.path is required")
	}
	return badger.NewManager(logger, &config.Storage.Badger)
}

// NewCredentialStore opens the flat-file credential inventory
func NewCredentialStore(logger arbor.ILogger, config *common.Config) (interfaces.CredentialStore, error) {
	if config.Inventory.DataDir == "" {
		return nil, fmt.Errorf("inventory.data_dir is required")
	}
	return flatfile.NewCredentialStore(config.Inventory.DataDir, logger)
}
