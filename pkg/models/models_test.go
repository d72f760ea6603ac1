package models

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Value
	}{
		{"integer", "17", Number(17)},
		{"thousands", "6,012", Number(6012)},
		{"negative", "-3.5", Number(-3.5)},
		{"text", "Own 28.3", Text("Own 28.3")},
		{"trimmed text", "  NWE ", Text("NWE")},
		{"empty", "", Absent()},
		{"whitespace", "   ", Absent()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestParsePercent(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want Value
	}{
		{"percent string", Text("42.5%"), Number(0.425)},
		{"bare number text", Text("38.5"), Number(0.385)},
		{"already a ratio", Number(0.4), Number(0.4)},
		{"malformed", Text("n/a%"), Absent()},
		{"empty", Text(""), Absent()},
		{"absent", Absent(), Absent()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePercent(tt.in)
			require.Equal(t, tt.want.Kind(), got.Kind())
			if f, ok := tt.want.Float(); ok {
				g, _ := got.Float()
				assert.InDelta(t, f, g, 1e-9)
			}
		})
	}
}

func TestNumber_NonFiniteIsAbsent(t *testing.T) {
	assert.True(t, Number(math.Inf(1)).IsAbsent())
	assert.True(t, Number(math.NaN()).IsAbsent())
	assert.False(t, Number(0).IsAbsent())
}

func TestValue_Float(t *testing.T) {
	f, ok := Text("1,024").Float()
	require.True(t, ok)
	assert.Equal(t, 1024.0, f)

	_, ok = Text("abc").Float()
	assert.False(t, ok)

	_, ok = Absent().Float()
	assert.False(t, ok)

	_, ok = Bool(true).Float()
	assert.False(t, ok)
}

func TestValue_JSONRoundTrip(t *testing.T) {
	in := []Value{Absent(), Text("NWE"), Number(0.667), Bool(true), Text("")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[null,"NWE",0.667,true,""]`, string(data))

	var out []Value
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnitEntry_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second).UTC()
	entry := UnitEntry{
		Status:      UnitStatusSuccess,
		Attempts:    2,
		ProcessedAt: now,
		LastAttempt: now,
		Columns:     []string{"year", "team_id", "games"},
		Records: []Record{
			{Key: Key{Year: 2021, ID: "NWE"}, Values: []Value{Number(2021), Text("NWE"), Number(17)}},
		},
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)

	var got UnitEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, entry, got)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "2021/NWE", Key{Year: 2021, ID: "NWE"}.String())
	assert.Equal(t, "2021/Tom Brady/qb:3", Key{Year: 2021, ID: "Tom Brady", Sub: "qb:3"}.String())
}

func newTestDataset() *Dataset {
	return NewDataset("passing_offense", []string{"year", "team_id", "passes_completed"})
}

func TestDataset_AppendRejectsDuplicates(t *testing.T) {
	ds := newTestDataset()
	first := Record{Key: Key{Year: 2021, ID: "NWE"}, Values: []Value{Number(2021), Text("NWE"), Number(20)}}
	second := Record{Key: Key{Year: 2021, ID: "NWE"}, Values: []Value{Number(2021), Text("NWE"), Number(99)}}

	require.NoError(t, ds.Append(first))
	err := ds.Append(second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrDuplicateKey))

	got, ok := ds.Lookup(Key{Year: 2021, ID: "NWE"})
	require.True(t, ok)
	assert.Equal(t, Number(20), ds.Get(got, "passes_completed"), "first record must not be overwritten")
	assert.Equal(t, 1, ds.Len())
}

func TestDataset_AppendRejectsWrongWidth(t *testing.T) {
	ds := newTestDataset()
	err := ds.Append(Record{Key: Key{Year: 2021, ID: "NWE"}, Values: []Value{Number(2021)}})
	assert.True(t, errors.Is(err, utils.ErrStructuralMismatch))
	assert.Equal(t, 0, ds.Len())
}

func TestDataset_YearsAndForYear(t *testing.T) {
	ds := newTestDataset()
	for _, r := range []Record{
		{Key: Key{Year: 2022, ID: "KAN"}, Values: []Value{Number(2022), Text("KAN"), Number(1)}},
		{Key: Key{Year: 2021, ID: "NWE"}, Values: []Value{Number(2021), Text("NWE"), Number(2)}},
		{Key: Key{Year: 2022, ID: "BUF"}, Values: []Value{Number(2022), Text("BUF"), Number(3)}},
	} {
		require.NoError(t, ds.Append(r))
	}

	assert.Equal(t, []int{2021, 2022}, ds.Years())

	y22 := ds.ForYear(2022)
	assert.Equal(t, 2, y22.Len())
	_, ok := y22.Lookup(Key{Year: 2021, ID: "NWE"})
	assert.False(t, ok)
}

func TestDataset_SortByKey(t *testing.T) {
	ds := newTestDataset()
	for _, id := range []string{"NWE", "BUF", "KAN"} {
		require.NoError(t, ds.Append(Record{Key: Key{Year: 2021, ID: id}, Values: []Value{Number(2021), Text(id), Absent()}}))
	}
	ds.SortByKey()

	var ids []string
	for r := range ds.Records() {
		ids = append(ids, r.Key.ID)
	}
	assert.Equal(t, []string{"BUF", "KAN", "NWE"}, ids)

	r, ok := ds.Lookup(Key{Year: 2021, ID: "NWE"})
	require.True(t, ok)
	assert.Equal(t, Text("NWE"), ds.Get(r, "team_id"))
	assert.True(t, slices.Equal([]string{"year", "team_id", "passes_completed"}, ds.Columns))
}
