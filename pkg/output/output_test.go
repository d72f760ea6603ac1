package output

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/gridstat/pfr-crawler/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func passingDataset(t *testing.T) *models.Dataset {
	t.Helper()
	ds := models.NewDataset("passing_offense", []string{"year", "team_id", "yards", "rate", "made_playoffs"})
	rows := []struct {
		year  int
		team  string
		yards models.Value
		rate  models.Value
	}{
		{2020, "BUF", models.Number(4620), models.Number(105.4)},
		{2020, "KAN", models.Number(4854), models.Absent()},
		{2021, "BUF", models.Number(4407), models.Number(92.2)},
	}
	for _, r := range rows {
		require.NoError(t, ds.Append(models.Record{
			Key:    models.Key{Year: r.year, ID: r.team},
			Values: []models.Value{models.Number(float64(r.year)), models.Text(r.team), r.yards, r.rate, models.Bool(r.team == "BUF")},
		}))
	}
	return ds
}

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheet)
	require.NoError(t, err)
	return rows
}

func TestExcelWriter_OneFilePerSeason(t *testing.T) {
	dir := t.TempDir()
	w := NewExcelWriter(dir, testLogger())

	paths, err := w.WriteDataset(passingDataset(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "passing_offense_2020.xlsx"),
		filepath.Join(dir, "passing_offense_2021.xlsx"),
	}, paths)

	rows := readSheet(t, paths[0])
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"year", "team_id", "yards", "rate", "made_playoffs"}, rows[0])
	assert.Equal(t, "BUF", rows[1][1])
	assert.Equal(t, "105.4", rows[1][3])
	assert.Equal(t, "", rows[2][3], "absent values leave the cell empty")

	assert.Len(t, readSheet(t, paths[1]), 2)
}

func TestExcelWriter_YearLessAndMerged(t *testing.T) {
	dir := t.TempDir()
	w := NewExcelWriter(dir, testLogger())

	stadiums := models.NewDataset("stadiums", []string{"stadium_id", "stadium_name"})
	require.NoError(t, stadiums.Append(models.Record{
		Key:    models.Key{ID: "BUF00"},
		Values: []models.Value{models.Text("BUF00"), models.Text("Highmark Stadium")},
	}))
	paths, err := w.WriteDataset(stadiums)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "stadiums.xlsx")}, paths)
	assert.Equal(t, [][]string{{"stadium_id", "stadium_name"}, {"BUF00", "Highmark Stadium"}}, readSheet(t, paths[0]))

	path, err := w.WriteMerged("offense", passingDataset(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "merged_offense.xlsx"), path)
	assert.Len(t, readSheet(t, path), 4)
}

func TestSQLiteLoader_Load(t *testing.T) {
	loader, err := OpenSQLite(filepath.Join(t.TempDir(), "pfr.db"), testLogger())
	require.NoError(t, err)
	defer loader.Close()
	ctx := context.Background()

	n, err := loader.Load(ctx, passingDataset(t))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var nulls int
	require.NoError(t, loader.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passing_offense WHERE rate IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)

	var yards float64
	require.NoError(t, loader.DB().QueryRowContext(ctx,
		`SELECT yards FROM passing_offense WHERE team_id = ? AND year = ?`, "KAN", 2020).Scan(&yards))
	assert.Equal(t, 4854.0, yards)

	var playoffs int
	require.NoError(t, loader.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passing_offense WHERE made_playoffs = 1`).Scan(&playoffs))
	assert.Equal(t, 2, playoffs)

	types := make(map[string]string)
	rows, err := loader.DB().QueryContext(ctx, `SELECT name, type FROM pragma_table_info('passing_offense')`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		types[name] = typ
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]string{
		"year": "REAL", "team_id": "TEXT", "yards": "REAL", "rate": "REAL", "made_playoffs": "INTEGER",
	}, types)
}

func TestSQLiteLoader_ReloadReplacesTable(t *testing.T) {
	loader, err := OpenSQLite(filepath.Join(t.TempDir(), "pfr.db"), testLogger())
	require.NoError(t, err)
	defer loader.Close()
	ctx := context.Background()

	_, err = loader.Load(ctx, passingDataset(t))
	require.NoError(t, err)
	_, err = loader.Load(ctx, passingDataset(t))
	require.NoError(t, err)

	var count int
	require.NoError(t, loader.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM passing_offense`).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestSQLiteLoader_LargeDatasetBatches(t *testing.T) {
	loader, err := OpenSQLite(filepath.Join(t.TempDir(), "pfr.db"), testLogger())
	require.NoError(t, err)
	defer loader.Close()

	ds := models.NewDataset("fantasy dst", []string{"year", "player", "points"})
	for i := range 1000 {
		require.NoError(t, ds.Append(models.Record{
			Key:    models.Key{Year: 2021, ID: strconv.Itoa(i)},
			Values: []models.Value{models.Number(2021), models.Text("player"), models.Number(float64(i))},
		}))
	}
	n, err := loader.Load(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	var sum float64
	require.NoError(t, loader.DB().QueryRow(`SELECT SUM(points) FROM fantasy_dst`).Scan(&sum))
	assert.Equal(t, float64(999*1000/2), sum)
}
