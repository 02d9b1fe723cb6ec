package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	orders interfaces.OrderStorage
	keys   interfaces.KeyStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		orders: NewOrderStorage(db, logger),
		keys:   NewKeyStorage(db, logger),
		logger: logger,
	}

	logger.Debug().Msg("Badger storage manager initialized")

	return manager, nil
}

// OrderStorage returns the order history storage
func (m *Manager) OrderStorage() interfaces.OrderStorage {
	return m.orders
}

// KeyStorage returns the order key storage
func (m *Manager) KeyStorage() interfaces.KeyStorage {
	return m.keys
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
