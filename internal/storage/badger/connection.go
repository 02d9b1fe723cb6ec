package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerDB owns the badgerhold store holding order history and keys
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	path   string
}

// NewBadgerDB opens (and with reset_on_startup, first wipes) the database at config.Path
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if err := resetDir(config.Path); err != nil {
			logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to reset database directory")
		} else {
			logger.Debug().Str("path", config.Path).Msg("Database reset (reset_on_startup=true)")
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(config.Path).WithLogger(nil) // arbor handles logging

	store, err := badgerhold.Open(options)
	if err != nil {
		logger.Error().Err(err).Str("path", config.Path).Msg("Failed to open Badger database")
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database opened")
	return &BadgerDB{store: store, logger: logger, path: config.Path}, nil
}

func resetDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return os.RemoveAll(path)
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// Close runs one value log GC pass and closes the store
func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	if err := b.store.Badger().RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
		b.logger.Debug().Err(err).Str("path", b.path).Msg("Value log GC skipped")
	}
	return b.store.Close()
}
