package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/log"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

const (
	unitKeyPrefix = "unit:"     // Prefix for unit keys in DB
	unitsDBDir    = "units_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the UnitStore interface using BadgerDB
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	ctx      context.Context // Parent context
	keyCount atomic.Int64    // Cached key count for O(1) Count
}

// NewBadgerStore opens the unit database of one crawl profile under stateDir.
// Without resume, any previous state of that profile is removed first.
func NewBadgerStore(ctx context.Context, stateDir, profile string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(profile)+"_"+unitsDBDir)

	if !resume {
		logger.Warnf("Resume flag is false. REMOVING existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove existing state directory %s: %v", dbPath, err)
		}
	}

	logger.Infof("Initializing unit state database at: %s (Resume: %v)", dbPath, resume)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogger(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing keys on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Loaded existing unit count on resume: %d", count)
		}
	}

	logger.Info("Unit state database initialized successfully.")
	return store, nil
}

// countKeys performs a one-time full key scan (used only during initialization on resume).
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(unitKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkUnitPending implements the UnitStore interface
func (s *BadgerStore) MarkUnitPending(unitKey string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("%w: unit DB not initialized", utils.ErrDatabase)
	}
	added := false
	key := []byte(unitKeyPrefix + unitKey)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			errSet := txn.SetEntry(badger.NewEntry(key, []byte{}))
			if errSet == nil {
				added = true
			}
			return errSet
		}
		return errGet
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkUnitPending: %v", err)
		return false, fmt.Errorf("%w: marking unit key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// decode turns a stored value into a status and entry. An empty value is a
// unit that was started but never finished.
func (s *BadgerStore) decode(key string, val []byte) (models.UnitStatus, *models.UnitEntry, error) {
	if len(val) == 0 {
		return models.UnitStatusPending, nil, nil
	}
	var entry models.UnitEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return models.UnitStatusPending, nil, fmt.Errorf("%w: unit entry '%s': %w", utils.ErrParsing, key, err)
	}
	if !entry.Status.IsValid() {
		return models.UnitStatusPending, &entry, nil
	}
	return entry.Status, &entry, nil
}

// CheckUnit implements the UnitStore interface
func (s *BadgerStore) CheckUnit(unitKey string) (models.UnitStatus, *models.UnitEntry, error) {
	status := models.UnitStatusNotFound
	var entry *models.UnitEntry
	key := []byte(unitKeyPrefix + unitKey)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting unit key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}
		return item.Value(func(val []byte) error {
			var errDecode error
			status, entry, errDecode = s.decode(string(key), val)
			if errDecode != nil {
				s.log.Warnf("%v. Treating as 'pending'.", errDecode)
			}
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckUnit for key '%s': %v", string(key), errView)
		return models.UnitStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateUnit implements the UnitStore interface
func (s *BadgerStore) UpdateUnit(unitKey string, entry *models.UnitEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: unit DB not initialized", utils.ErrDatabase)
	}
	key := []byte(unitKeyPrefix + unitKey)

	entryBytes, errJson := json.Marshal(entry)
	if errJson != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal UnitEntry for key '%s': %w", utils.ErrParsing, string(key), errJson)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateUnit: %v", err)
		return fmt.Errorf("%w: failed setting unit status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.Debugf("Updated unit '%s' to '%s'", unitKey, entry.Status)
	return nil
}

// Count implements the UnitStore interface.
func (s *BadgerStore) Count() (int, error) {
	return int(s.keyCount.Load()), nil
}

// ClearCategories removes the units of the named categories and keeps every
// other unit. Unit keys are "category/year[/week]".
func (s *BadgerStore) ClearCategories(categories []string) error {
	if s.db == nil {
		return fmt.Errorf("%w: unit DB not initialized", utils.ErrDatabase)
	}
	if len(categories) == 0 {
		return nil
	}
	prefixes := make([][]byte, len(categories))
	for i, c := range categories {
		prefixes[i] = []byte(unitKeyPrefix + c + "/")
	}
	if err := s.db.DropPrefix(prefixes...); err != nil {
		return fmt.Errorf("%w: clearing units of %v: %w", utils.ErrDatabase, categories, err)
	}
	count, err := s.countKeys()
	if err != nil {
		return fmt.Errorf("%w: recounting units: %w", utils.ErrDatabase, err)
	}
	s.keyCount.Store(int64(count))
	s.log.Infof("Cleared stored units of %d categories, %d units kept", len(categories), count)
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}
			var err error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// ScanUnits implements the UnitStore interface
func (s *BadgerStore) ScanUnits(ctx context.Context, fn func(unitKey string, entry *models.UnitEntry) error) (int, error) {
	scanErrors := 0
	scanStartTime := time.Now()
	visited := 0

	scanErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(unitKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				s.log.Warnf("Unit scan interrupted by context cancellation: %v", err)
				return err
			}

			item := it.Item()
			unitKey := string(item.KeyCopy(nil)[len(prefix):])

			val, err := item.ValueCopy(nil)
			if err != nil {
				s.log.Errorf("Unit scan: error getting value for '%s': %v", unitKey, err)
				scanErrors++
				continue
			}
			status, entry, err := s.decode(unitKey, val)
			if err != nil {
				s.log.Errorf("Unit scan: %v. Skipping.", err)
				scanErrors++
				continue
			}
			if entry == nil {
				entry = &models.UnitEntry{Status: status}
			}
			visited++
			if err := fn(unitKey, entry); err != nil {
				return err
			}
		}
		return nil
	})

	s.log.Debugf("Unit scan complete: %d units in %v, %d errors.", visited, time.Since(scanStartTime), scanErrors)
	return scanErrors, scanErr
}

// WriteUnitLog implements the UnitStore interface.
func (s *BadgerStore) WriteUnitLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create unit log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create unit log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	written := 0

	_, scanErr := s.ScanUnits(s.ctx, func(unitKey string, entry *models.UnitEntry) error {
		if _, err := fmt.Fprintf(writer, "%s\t%s\t%s\n", unitKey, entry.Status, entry.ErrorType); err != nil && writeErr == nil {
			writeErr = err
		}
		written++
		return nil
	})

	if err := writer.Flush(); err != nil && writeErr == nil {
		writeErr = err
	}
	if err := file.Sync(); err != nil && writeErr == nil {
		writeErr = err
	}

	if scanErr != nil {
		return scanErr
	}
	if writeErr != nil {
		s.log.Warnf("Finished writing unit log with errors. Wrote ~%d units to %s", written, filePath)
		return fmt.Errorf("%w: writing unit log: %w", utils.ErrFilesystem, writeErr)
	}
	s.log.Infof("Wrote %d units to unit log: %s", written, filePath)
	return nil
}

// Close implements the UnitStore interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing unit DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing unit DB: %v", err)
			return err
		}
		return nil
	}
	return nil
}
