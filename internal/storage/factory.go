package storage

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
	"github.com/ternarybob/pictor/internal/storage/badger"
	"github.com/ternarybob/pictor/internal/storage/sqlite"
)

// Manager implements the StorageManager interface over the SQLite job
// store and the Badger trigger-word cache.
type Manager struct {
	sqliteDB *sqlite.SQLiteDB
	badgerDB *badger.BadgerDB

	jobs         interfaces.JobStorage
	upscales     interfaces.UpscaleJobStorage
	bannedWords  interfaces.BannedWordStorage
	triggerWords interfaces.TriggerWordStorage

	logger arbor.ILogger
}

// NewStorageManager opens both stores and runs migrations
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	sqliteDB, err := sqlite.NewSQLiteDB(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, err
	}

	badgerDB, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		sqliteDB.Close()
		return nil, err
	}

	return &Manager{
		sqliteDB:     sqliteDB,
		badgerDB:     badgerDB,
		jobs:         sqlite.NewJobStorage(sqliteDB, logger),
		upscales:     sqlite.NewUpscaleStorage(sqliteDB, logger),
		bannedWords:  sqlite.NewBannedWordStorage(sqliteDB, logger),
		triggerWords: badger.NewTriggerWordStorage(badgerDB, logger),
		logger:       logger,
	}, nil
}

// JobStorage returns the render job storage
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobs
}

// UpscaleStorage returns the upscale job storage
func (m *Manager) UpscaleStorage() interfaces.UpscaleJobStorage {
	return m.upscales
}

// BannedWordStorage returns the content guard storage
func (m *Manager) BannedWordStorage() interfaces.BannedWordStorage {
	return m.bannedWords
}

// TriggerWordStorage returns the adapter trigger-word cache
func (m *Manager) TriggerWordStorage() interfaces.TriggerWordStorage {
	return m.triggerWords
}

// PurgeOlderThan runs the retention sweep transaction
func (m *Manager) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, int, error) {
	return m.sqliteDB.PurgeOlderThan(ctx, cutoff)
}

// Close closes both underlying stores
func (m *Manager) Close() error {
	var firstErr error
	if m.sqliteDB != nil {
		if err := m.sqliteDB.Close(); err != nil {
			firstErr = err
		}
	}
	if m.badgerDB != nil {
		if err := m.badgerDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
