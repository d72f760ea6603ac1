package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/storage"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// accumulator holds one dataset per category for the current run.
type accumulator struct {
	mu       sync.Mutex
	datasets map[string]*models.Dataset
	log      *logrus.Entry
}

func newAccumulator(log *logrus.Entry) *accumulator {
	return &accumulator{datasets: make(map[string]*models.Dataset), log: log}
}

// add appends records to the category's dataset, creating it with columns
// on first use. Records whose key is already present are discarded and
// counted. A column header that differs from the dataset's is an error and
// nothing is added.
func (a *accumulator) add(category string, columns []string, records []models.Record) (duplicates int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ds, ok := a.datasets[category]
	if !ok {
		ds = models.NewDataset(category, columns)
		a.datasets[category] = ds
	} else if !slices.Equal(ds.Columns, columns) {
		return 0, fmt.Errorf("%w: %s columns changed between units (%d vs %d)",
			utils.ErrStructuralMismatch, category, len(ds.Columns), len(columns))
	}

	for _, r := range records {
		if err := ds.Append(r); err != nil {
			if errors.Is(err, utils.ErrDuplicateKey) {
				duplicates++
				a.log.WithField("category", category).Warnf("%v, discarding later row", err)
				continue
			}
			return duplicates, err
		}
	}
	return duplicates, nil
}

// snapshot returns the datasets sorted by key.
func (a *accumulator) snapshot() map[string]*models.Dataset {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ds := range a.datasets {
		ds.SortByKey()
	}
	return maps.Clone(a.datasets)
}

// LoadDatasets rebuilds category datasets from the successful units of a
// state store. With a non-empty filter only the named categories are loaded.
func LoadDatasets(ctx context.Context, store storage.UnitReader, filter []string, log *logrus.Entry) (map[string]*models.Dataset, error) {
	acc := newAccumulator(log)
	units := 0
	scanErrors, err := store.ScanUnits(ctx, func(key string, entry *models.UnitEntry) error {
		cat := categoryOfKey(key)
		if len(filter) > 0 && !slices.Contains(filter, cat) {
			return nil
		}
		if entry.Status != models.UnitStatusSuccess {
			return nil
		}
		if _, err := acc.add(cat, entry.Columns, entry.Records); err != nil {
			log.WithField("unit", key).Warnf("Skipping stored unit: %v", err)
			return nil
		}
		units++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if scanErrors > 0 {
		log.Warnf("%d stored units could not be decoded", scanErrors)
	}
	log.Infof("Loaded %d stored units into %d datasets", units, len(acc.datasets))
	return acc.snapshot(), nil
}
