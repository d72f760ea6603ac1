package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstat/pfr-crawler/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "pfr", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func successEntry(year int, ids ...string) *models.UnitEntry {
	now := time.Now().Truncate(time.Millisecond)
	entry := &models.UnitEntry{
		Status:      models.UnitStatusSuccess,
		Attempts:    1,
		ProcessedAt: now,
		LastAttempt: now,
		ContentHash: "abc123",
		Columns:     []string{"year", "team_id"},
	}
	for _, id := range ids {
		entry.Records = append(entry.Records, models.Record{
			Key:    models.Key{Year: year, ID: id},
			Values: []models.Value{models.Number(float64(year)), models.Text(id)},
		})
	}
	return entry
}

func TestNewBadgerStore(t *testing.T) {
	t.Run("fresh start has zero count", func(t *testing.T) {
		store := newTestStore(t)
		count, err := store.Count()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("resume preserves data", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store1, err := NewBadgerStore(ctx, dir, "pfr", false, testLogger())
		require.NoError(t, err)
		require.NoError(t, store1.UpdateUnit("total_offense/2021", successEntry(2021, "BUF")))
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(ctx, dir, "pfr", true, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		status, entry, err := store2.CheckUnit("total_offense/2021")
		require.NoError(t, err)
		assert.Equal(t, models.UnitStatusSuccess, status)
		require.Len(t, entry.Records, 1)
		assert.Equal(t, models.Key{Year: 2021, ID: "BUF"}, entry.Records[0].Key)
		assert.Equal(t, models.Text("BUF"), entry.Records[0].Values[1])
	})

	t.Run("fresh start wipes data", func(t *testing.T) {
		dir := t.TempDir()
		ctx := context.Background()

		store1, err := NewBadgerStore(ctx, dir, "pfr", false, testLogger())
		require.NoError(t, err)
		_, err = store1.MarkUnitPending("games/2021")
		require.NoError(t, err)
		require.NoError(t, store1.Close())

		store2, err := NewBadgerStore(ctx, dir, "pfr", false, testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { store2.Close() })

		count, err := store2.Count()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestMarkUnitPending(t *testing.T) {
	store := newTestStore(t)

	added, err := store.MarkUnitPending("coaches/2020")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.MarkUnitPending("coaches/2020")
	require.NoError(t, err)
	assert.False(t, added)

	status, entry, err := store.CheckUnit("coaches/2020")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusPending, status)
	assert.Nil(t, entry)

	require.NoError(t, store.UpdateUnit("coaches/2020", successEntry(2020)))
	added, err = store.MarkUnitPending("coaches/2020")
	require.NoError(t, err)
	assert.False(t, added)
	status, _, err = store.CheckUnit("coaches/2020")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusSuccess, status, "marking pending never overwrites a finished unit")

	count, _ := store.Count()
	assert.Equal(t, 1, count)
}

func TestCheckUnit(t *testing.T) {
	store := newTestStore(t)

	t.Run("not found", func(t *testing.T) {
		status, entry, err := store.CheckUnit("stadiums/0")
		require.NoError(t, err)
		assert.Equal(t, models.UnitStatusNotFound, status)
		assert.Nil(t, entry)
	})

	t.Run("failure entry", func(t *testing.T) {
		require.NoError(t, store.UpdateUnit("games/2003", &models.UnitEntry{
			Status:      models.UnitStatusFailure,
			ErrorType:   "Exhausted_StructuralMismatch",
			Attempts:    5,
			LastAttempt: time.Now(),
		}))

		status, entry, err := store.CheckUnit("games/2003")
		require.NoError(t, err)
		assert.Equal(t, models.UnitStatusFailure, status)
		require.NotNil(t, entry)
		assert.Equal(t, "Exhausted_StructuralMismatch", entry.ErrorType)
		assert.Equal(t, 5, entry.Attempts)
	})

	t.Run("corrupted JSON falls back to pending", func(t *testing.T) {
		key := []byte(unitKeyPrefix + "playoffs/2019")
		err := store.db.Update(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry(key, []byte("{invalid json")))
		})
		require.NoError(t, err)

		status, entry, err := store.CheckUnit("playoffs/2019")
		require.NoError(t, err)
		assert.Equal(t, models.UnitStatusPending, status)
		assert.Nil(t, entry)
	})
}

func TestUpdateUnit_Overwrite(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpdateUnit("passing_offense/2022", &models.UnitEntry{
		Status: models.UnitStatusFailure, ErrorType: "HTTP_500", LastAttempt: time.Now(),
	}))
	require.NoError(t, store.UpdateUnit("passing_offense/2022", successEntry(2022, "CIN", "KAN")))

	count, _ := store.Count()
	assert.Equal(t, 1, count, "overwrite does not add a key")

	status, got, err := store.CheckUnit("passing_offense/2022")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusSuccess, status)
	assert.Empty(t, got.ErrorType)
	assert.Len(t, got.Records, 2)
	assert.Equal(t, "abc123", got.ContentHash)
}

func TestScanUnits(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpdateUnit("a/2021", successEntry(2021, "BUF")))
	_, err := store.MarkUnitPending("b/2021")
	require.NoError(t, err)
	require.NoError(t, store.UpdateUnit("c/2021", &models.UnitEntry{Status: models.UnitStatusFailure, ErrorType: "HTTP_404"}))
	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(unitKeyPrefix+"d/2021"), []byte("not json")))
	}))

	var keys []string
	statuses := make(map[string]models.UnitStatus)
	scanErrors, err := store.ScanUnits(context.Background(), func(key string, e *models.UnitEntry) error {
		keys = append(keys, key)
		statuses[key] = e.Status
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, scanErrors)
	assert.Equal(t, []string{"a/2021", "b/2021", "c/2021"}, keys)
	assert.Equal(t, models.UnitStatusPending, statuses["b/2021"])
	assert.Equal(t, models.UnitStatusFailure, statuses["c/2021"])

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := store.ScanUnits(ctx, func(string, *models.UnitEntry) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClearCategories(t *testing.T) {
	store := newTestStore(t)
	for _, key := range []string{"standings/2021", "standings/2022", "standings_extra/2021", "fantasy_dl/2021/3", "coaches/2021"} {
		require.NoError(t, store.UpdateUnit(key, successEntry(2021, "BUF")))
	}

	require.NoError(t, store.ClearCategories([]string{"standings", "fantasy_dl"}))

	var keys []string
	_, err := store.ScanUnits(context.Background(), func(key string, _ *models.UnitEntry) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"coaches/2021", "standings_extra/2021"}, keys)
	count, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NoError(t, store.ClearCategories(nil))
}

func TestWriteUnitLog(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpdateUnit("games/2021", successEntry(2021)))
	require.NoError(t, store.UpdateUnit("games/2022", &models.UnitEntry{Status: models.UnitStatusFailure, ErrorType: "HTTP_429"}))

	path := filepath.Join(t.TempDir(), "units.tsv")
	require.NoError(t, store.WriteUnitLog(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"games/2021\tsuccess\t", "games/2022\tfailure\tHTTP_429"}, lines)
}

func TestClose_Idempotent(t *testing.T) {
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "pfr", false, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestRunGC_StopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC did not stop after cancel")
	}
}
