package orchestrate

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/catalog"
	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/entity"
	"github.com/gridstat/pfr-crawler/pkg/fetch"
	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/storage"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeOpener serves pages by URL. Unknown URLs fail with a navigation error.
type fakeOpener struct {
	mu     sync.Mutex
	pages  map[string]string
	loads  map[string]int
	onLoad func(url string)
}

func newFakeOpener(pages map[string]string) *fakeOpener {
	return &fakeOpener{pages: pages, loads: make(map[string]int)}
}

func (f *fakeOpener) Open(ctx context.Context) (fetch.Session, error) {
	return &fakeSession{f: f}, nil
}

func (f *fakeOpener) loadCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[url]
}

func (f *fakeOpener) totalLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.loads {
		n += c
	}
	return n
}

type fakeSession struct{ f *fakeOpener }

func (s *fakeSession) Load(ctx context.Context, url string) (string, error) {
	s.f.mu.Lock()
	s.f.loads[url]++
	html, ok := s.f.pages[url]
	hook := s.f.onLoad
	s.f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if !ok {
		return "", fmt.Errorf("%w: no page %s", utils.ErrNavigation, url)
	}
	return html, nil
}

func (s *fakeSession) Close() error { return nil }

const base = "https://pfr.test"

func teamPage(rows ...string) string {
	return `<html><body><table id="team_stats"><thead><tr><th>Rk</th><th>Tm</th><th>PF</th><th>G</th></tr></thead><tbody>` +
		strings.Join(rows, "") + `</tbody></table></body></html>`
}

func teamRow(rank int, code, name string, points, games int) string {
	return fmt.Sprintf(`<tr><th>%d</th><td><a href="/teams/%s/2021.htm">%s</a></td><td>%d</td><td>%d</td></tr>`,
		rank, strings.ToLower(code), name, points, games)
}

func teamDetail(city string) string {
	return `<html><body><div id="meta"><h1>Team</h1><p>` + city + `</p></div></body></html>`
}

func parseTeamDetail(doc *goquery.Document) (map[string]models.Value, error) {
	sel, ok := locate.FindDiv(doc.Selection, "meta")
	meta, err := locate.Require(sel, ok, "div#meta")
	if err != nil {
		return nil, err
	}
	return map[string]models.Value{"city": models.Text(locate.Text(locate.FindParagraphs(meta).First()))}, nil
}

func teamCategory() catalog.Category {
	return catalog.Category{
		Name:   "team_stats",
		Group:  "offense",
		URL:    catalog.URLTemplate(base + "/years/{year}/"),
		Tables: []string{"team_stats"},
		Schema: assemble.Schema{
			Name: "team_stats",
			Columns: []assemble.Column{
				{Name: "year", Source: assemble.Year},
				{Name: "rank", Source: assemble.LabelText},
				{Name: "team_id", Source: assemble.CellID, Kind: entity.Team},
				{Name: "points", Source: assemble.CellText},
				{Name: "games", Source: assemble.CellText},
				{Name: "city", Source: assemble.Detail},
			},
			Derived:  []assemble.Derivation{{Name: "points_per_game", Numerator: "points", Denominator: "games", Round: 1}},
			MinCells: 2,
			KeyID:    "team_id",
		},
		Detail: &catalog.DetailPage{
			Kind:     entity.Team,
			IDColumn: "team_id",
			URL:      catalog.URLTemplate(base + "/teams/{id}.htm"),
			Parse:    parseTeamDetail,
		},
	}
}

func testConfig(from, to int) *config.AppConfig {
	return &config.AppConfig{
		Years:           config.YearRange{From: from, To: to},
		Workers:         2,
		PageLoadTimeout: time.Second,
	}
}

func testRetrying(opener fetch.Opener) *fetch.Retrying {
	return fetch.NewRetrying(opener, fetch.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, testLogger())
}

func testStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(context.Background(), t.TempDir(), "test", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func twoSeasonPages() map[string]string {
	return map[string]string{
		base + "/years/2020/": teamPage(
			teamRow(1, "KAN", "Kansas City Chiefs", 473, 16),
			teamRow(2, "BUF", "Buffalo Bills", 501, 16),
		),
		base + "/years/2021/": teamPage(
			teamRow(1, "BUF", "Buffalo Bills", 483, 17),
			teamRow(2, "KAN", "Kansas City Chiefs", 480, 17),
		),
		base + "/teams/BUF.htm": teamDetail("Orchard Park"),
		base + "/teams/KAN.htm": teamDetail("Kansas City"),
	}
}

// rows renders a dataset for comparison.
func rows(ds *models.Dataset) [][]any {
	var out [][]any
	for r := range ds.Records() {
		row := make([]any, len(r.Values))
		for i, v := range r.Values {
			row[i] = v.Interface()
		}
		out = append(out, row)
	}
	return out
}

func TestPlanUnits(t *testing.T) {
	cats := []catalog.Category{
		{Name: "standings"},
		{Name: "stadiums", YearLess: true},
		{Name: "fantasy_dst", Weekly: true},
	}
	weeks := func(year int) int {
		if year == 2020 {
			return 2
		}
		return 1
	}
	var keys []string
	for _, u := range PlanUnits(cats, []int{2020, 2021}, weeks) {
		keys = append(keys, u.Key())
	}
	assert.Equal(t, []string{
		"standings/2020", "standings/2021",
		"stadiums/0",
		"fantasy_dst/2020/1", "fantasy_dst/2020/2", "fantasy_dst/2021/1",
	}, keys)
}

func TestNew_RejectsInvalidInput(t *testing.T) {
	_, err := New(testConfig(2021, 2021), nil, testRetrying(newFakeOpener(nil)), nil, testLogger())
	assert.Error(t, err)

	bad := teamCategory()
	bad.Schema.KeyID = "missing"
	_, err = New(testConfig(2021, 2021), []catalog.Category{bad}, testRetrying(newFakeOpener(nil)), nil, testLogger())
	assert.Error(t, err)
}

func TestRun_AccumulatesAcrossYears(t *testing.T) {
	opener := newFakeOpener(twoSeasonPages())
	store := testStore(t)
	o, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(opener), store, testLogger())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 4, result.Stats.Accepted)

	ds := result.Datasets["team_stats"]
	require.NotNil(t, ds)
	assert.Equal(t, []string{"year", "rank", "team_id", "points", "games", "city", "points_per_game"}, ds.Columns)
	want := [][]any{
		{2020.0, 2.0, "BUF", 501.0, 16.0, "Orchard Park", 31.3},
		{2020.0, 1.0, "KAN", 473.0, 16.0, "Kansas City", 29.6},
		{2021.0, 1.0, "BUF", 483.0, 17.0, "Orchard Park", 28.4},
		{2021.0, 2.0, "KAN", 480.0, 17.0, "Kansas City", 28.2},
	}
	if diff := cmp.Diff(want, rows(ds)); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, opener.loadCount(base+"/teams/BUF.htm"), "detail pages are fetched once per entity")
	assert.Equal(t, 1, opener.loadCount(base+"/teams/KAN.htm"))
	assert.Equal(t, 2, result.DetailFetches)

	status, entry, err := store.CheckUnit("team_stats/2021")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusSuccess, status)
	assert.Len(t, entry.Records, 2)
	assert.NotEmpty(t, entry.ContentHash)
}

func TestRun_DetailFailureKeepsRow(t *testing.T) {
	pages := twoSeasonPages()
	delete(pages, base+"/teams/KAN.htm")
	opener := newFakeOpener(pages)
	cfg := testConfig(2021, 2021)
	o, err := New(cfg, []catalog.Category{teamCategory()}, testRetrying(opener), nil, testLogger())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	ds := result.Datasets["team_stats"]
	require.Equal(t, 2, ds.Len())

	kan, ok := ds.Lookup(models.Key{Year: 2021, ID: "KAN"})
	require.True(t, ok)
	assert.Equal(t, models.Absent(), ds.Get(kan, "city"))
	assert.Equal(t, models.Number(480), ds.Get(kan, "points"))
	assert.Equal(t, 1, result.DetailFailures)
	assert.Equal(t, 2, opener.loadCount(base+"/teams/KAN.htm"), "detail page retried up to max attempts")
}

func TestRun_DetailPagesDisabled(t *testing.T) {
	opener := newFakeOpener(twoSeasonPages())
	cfg := testConfig(2021, 2021)
	off := false
	cfg.FetchDetailPages = &off
	o, err := New(cfg, []catalog.Category{teamCategory()}, testRetrying(opener), nil, testLogger())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, opener.loadCount(base+"/teams/BUF.htm"))
	buf, ok := result.Datasets["team_stats"].Lookup(models.Key{Year: 2021, ID: "BUF"})
	require.True(t, ok)
	assert.True(t, result.Datasets["team_stats"].Get(buf, "city").IsAbsent())
}

func TestRun_FailedUnitIsRecorded(t *testing.T) {
	pages := twoSeasonPages()
	delete(pages, base+"/years/2021/")
	opener := newFakeOpener(pages)
	store := testStore(t)
	o, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(opener), store, testLogger())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err, "unit failures do not fail the run")
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []int{2020}, result.Datasets["team_stats"].Years())

	failed := result.Units[1]
	assert.Equal(t, "team_stats/2021", failed.Unit.Key())
	assert.Equal(t, models.UnitStatusFailure, failed.Status)
	assert.Equal(t, "Exhausted_Navigation", failed.ErrorType)
	assert.Equal(t, 2, failed.Attempts)

	status, entry, err := store.CheckUnit("team_stats/2021")
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusFailure, status)
	assert.Equal(t, "Exhausted_Navigation", entry.ErrorType)
}

func TestRun_ResumeReplaysFinishedUnits(t *testing.T) {
	store := testStore(t)
	first := newFakeOpener(twoSeasonPages())
	o, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(first), store, testLogger())
	require.NoError(t, err)
	firstResult, err := o.Run(context.Background())
	require.NoError(t, err)

	// The second run has no pages at all; everything must come from the store.
	second := newFakeOpener(map[string]string{})
	o2, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(second), store, testLogger())
	require.NoError(t, err)
	result, err := o2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Resumed)
	assert.Zero(t, result.Succeeded)
	assert.Zero(t, second.totalLoads())
	if diff := cmp.Diff(rows(firstResult.Datasets["team_stats"]), rows(result.Datasets["team_stats"])); diff != "" {
		t.Errorf("resumed dataset differs (-first +resumed):\n%s", diff)
	}
}

func TestRun_ResumeRetriesFailedUnits(t *testing.T) {
	store := testStore(t)
	pages := twoSeasonPages()
	delete(pages, base+"/years/2021/")
	o, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(newFakeOpener(pages)), store, testLogger())
	require.NoError(t, err)
	_, err = o.Run(context.Background())
	require.NoError(t, err)

	opener := newFakeOpener(twoSeasonPages())
	o2, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(opener), store, testLogger())
	require.NoError(t, err)
	result, err := o2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resumed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Zero(t, opener.loadCount(base+"/years/2020/"))
	assert.Equal(t, 1, opener.loadCount(base+"/years/2021/"))
	assert.Equal(t, 4, result.Datasets["team_stats"].Len())
}

func TestRun_CancelStopsIssuingUnits(t *testing.T) {
	t.Run("cancelled before start", func(t *testing.T) {
		opener := newFakeOpener(twoSeasonPages())
		o, err := New(testConfig(2000, 2021), []catalog.Category{teamCategory()}, testRetrying(opener), nil, testLogger())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result, err := o.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 22, result.NotStarted)
		assert.Zero(t, opener.totalLoads())
	})

	t.Run("cancelled mid run", func(t *testing.T) {
		pages := make(map[string]string)
		for y := 2000; y <= 2021; y++ {
			pages[fmt.Sprintf("%s/years/%d/", base, y)] = teamPage(teamRow(1, "BUF", "Buffalo Bills", 300, 16))
		}
		opener := newFakeOpener(pages)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		opener.onLoad = func(url string) {
			if strings.HasSuffix(url, "/2001/") {
				cancel()
			}
		}
		cfg := testConfig(2000, 2021)
		cfg.Workers = 1
		off := false
		cfg.FetchDetailPages = &off
		o, err := New(cfg, []catalog.Category{teamCategory()}, testRetrying(opener), nil, testLogger())
		require.NoError(t, err)

		result, err := o.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, opener.totalLoads(), 22)
		assert.Positive(t, result.NotStarted)
		assert.Equal(t, 22, result.NotStarted+result.Succeeded+result.Interrupted+result.Failed)
	})
}

func TestRun_DuplicateKeysAcrossTables(t *testing.T) {
	cat := teamCategory()
	cat.Tables = []string{"afc", "nfc"}
	cat.Detail = nil
	page := `<html><body>
<table id="afc"><tbody>` + teamRow(1, "BUF", "Buffalo Bills", 400, 17) + `</tbody></table>
<table id="nfc"><tbody>` + teamRow(1, "BUF", "Buffalo Bills (again)", 1, 17) + teamRow(2, "DAL", "Dallas Cowboys", 530, 17) + `</tbody></table>
</body></html>`
	opener := newFakeOpener(map[string]string{base + "/years/2021/": page})
	o, err := New(testConfig(2021, 2021), []catalog.Category{cat}, testRetrying(opener), nil, testLogger())
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	ds := result.Datasets["team_stats"]
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 1, result.Stats.Duplicates)
	buf, _ := ds.Lookup(models.Key{Year: 2021, ID: "BUF"})
	assert.Equal(t, models.Number(400), ds.Get(buf, "points"), "the first row wins")
}

func TestLoadDatasets(t *testing.T) {
	store := testStore(t)
	o, err := New(testConfig(2020, 2021), []catalog.Category{teamCategory()}, testRetrying(newFakeOpener(twoSeasonPages())), store, testLogger())
	require.NoError(t, err)
	result, err := o.Run(context.Background())
	require.NoError(t, err)

	loaded, err := LoadDatasets(context.Background(), store, nil, testLogger())
	require.NoError(t, err)
	require.Contains(t, loaded, "team_stats")
	if diff := cmp.Diff(rows(result.Datasets["team_stats"]), rows(loaded["team_stats"])); diff != "" {
		t.Errorf("loaded dataset differs (-run +loaded):\n%s", diff)
	}

	filtered, err := LoadDatasets(context.Background(), store, []string{"standings"}, testLogger())
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestTeams(t *testing.T) {
	a := models.NewDataset("total_offense", []string{"year", "team_id"})
	for _, r := range []struct {
		year int
		team string
	}{{2001, "BUF"}, {2002, "BUF"}, {2002, "HTX"}, {2005, "BUF"}} {
		require.NoError(t, a.Append(models.Record{
			Key:    models.Key{Year: r.year, ID: r.team},
			Values: []models.Value{models.Number(float64(r.year)), models.Text(r.team)},
		}))
	}
	stadiums := models.NewDataset("stadiums", []string{"stadium_id"})

	got := Teams(a, stadiums, nil)
	assert.Equal(t, []TeamSeasons{
		{Team: "BUF", First: 2001, Last: 2005, Seasons: 3},
		{Team: "HTX", First: 2002, Last: 2002, Seasons: 1},
	}, got)
}
