package storage

import (
	"context"
	"time"

	"github.com/gridstat/pfr-crawler/pkg/models"
)

// UnitReader looks up the stored state of fetch units.
type UnitReader interface {
	// CheckUnit returns the status of a unit key (UnitStatusNotFound when the
	// key was never written, UnitStatusDBError with the error on failure) and
	// the decoded entry when there is one.
	CheckUnit(unitKey string) (status models.UnitStatus, entry *models.UnitEntry, err error)

	// ScanUnits calls fn for every stored unit in key order. Entries that
	// cannot be decoded are counted and skipped.
	ScanUnits(ctx context.Context, fn func(unitKey string, entry *models.UnitEntry) error) (scanErrors int, err error)
}

// UnitWriter records unit progress.
type UnitWriter interface {
	// MarkUnitPending records that a unit was started. An existing entry is
	// left untouched; the return value reports whether the key was new.
	MarkUnitPending(unitKey string) (bool, error)

	// UpdateUnit overwrites the entry of a unit.
	UpdateUnit(unitKey string, entry *models.UnitEntry) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Count returns the number of unit keys in the store
	Count() (int, error)

	// ClearCategories removes the stored units of the named categories only
	ClearCategories(categories []string) error

	// WriteUnitLog writes one "key<TAB>status<TAB>error_type" line per unit
	WriteUnitLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// UnitStore combines all store interfaces for components that need full access
type UnitStore interface {
	UnitReader
	UnitWriter
	StoreAdmin
}
