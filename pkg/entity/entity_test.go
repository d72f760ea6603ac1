package entity

import (
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		href   string
		wantID string
		wantOK bool
	}{
		{"team season page", Team, "/teams/nwe/2021.htm", "NWE", true},
		{"team franchise page", Team, "/teams/kan/", "KAN", true},
		{"team index", Team, "/teams/rai.htm", "RAI", true},
		{"team absolute url", Team, "https://www.pro-football-reference.com/teams/buf/2022.htm", "BUF", true},
		{"team wrong prefix", Team, "/players/B/BradTo00.htm", "", false},
		{"team empty segment", Team, "/teams//2021.htm", "", false},
		{"coach", Coach, "/coaches/BelicBi0.htm", "BelicBi0", true},
		{"coach keeps case", Coach, "/coaches/McDaJo0.htm", "McDaJo0", true},
		{"coach nested path rejected", Coach, "/coaches/BelicBi0/x.htm", "", false},
		{"coach wrong suffix", Coach, "/coaches/BelicBi0.html", "", false},
		{"stadium", Stadium, "/stadiums/BOS00.htm", "BOS00", true},
		{"game", Game, "/boxscores/202109090tam.htm", "202109090tam", true},
		{"game with fragment", Game, "/boxscores/202109090tam.htm#all_officials", "202109090tam", true},
		{"player", Player, "/nfl/players/tom-brady.php", "tom-brady", true},
		{"player absolute", Player, "https://www.fantasypros.com/nfl/players/tom-brady.php", "tom-brady", true},
		{"empty href", Team, "", "", false},
		{"unknown kind", Kind("league"), "/leagues/NFL.htm", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := Extract(tt.kind, tt.href)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Coach ")
	require.NoError(t, err)
	assert.Equal(t, Coach, k)

	_, err = ParseKind("referee")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConfigValidation))
}

func TestExtractFromSelection(t *testing.T) {
	doc, err := locate.Parse(`<table><tr>
		<td id="coach"><a href="/coaches/ReidAn0.htm">Andy Reid</a></td>
		<td id="plain">no link</td>
	</tr></table>`)
	require.NoError(t, err)

	id, ok := ExtractFromSelection(Coach, doc.Find("#coach"))
	require.True(t, ok)
	assert.Equal(t, "ReidAn0", id)

	_, ok = ExtractFromSelection(Coach, doc.Find("#plain"))
	assert.False(t, ok)

	_, ok = ExtractFromSelection(Team, doc.Find("#coach"))
	assert.False(t, ok, "a coach link is not a team link")

	var empty *goquery.Selection
	_, ok = ExtractFromSelection(Team, empty)
	assert.False(t, ok)
}
