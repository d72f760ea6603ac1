package orchestrate

import (
	"slices"
	"strings"

	"github.com/gridstat/pfr-crawler/pkg/models"
)

// TeamSeasons is the span of seasons a team code appears in.
type TeamSeasons struct {
	Team    string
	First   int
	Last    int
	Seasons int
}

// Teams lists every team code found in the team_id column of the datasets,
// with the first and last season it appears in. Teams are sorted by code.
func Teams(datasets ...*models.Dataset) []TeamSeasons {
	years := make(map[string]map[int]struct{})
	for _, ds := range datasets {
		if ds == nil {
			continue
		}
		if _, ok := ds.ColumnIndex("team_id"); !ok {
			continue
		}
		for r := range ds.Records() {
			id := ds.Get(r, "team_id")
			if id.IsAbsent() || r.Key.Year == 0 {
				continue
			}
			team := id.String()
			if years[team] == nil {
				years[team] = make(map[int]struct{})
			}
			years[team][r.Key.Year] = struct{}{}
		}
	}

	out := make([]TeamSeasons, 0, len(years))
	for team, set := range years {
		ts := TeamSeasons{Team: team, Seasons: len(set)}
		for y := range set {
			if ts.First == 0 || y < ts.First {
				ts.First = y
			}
			if y > ts.Last {
				ts.Last = y
			}
		}
		out = append(out, ts)
	}
	slices.SortFunc(out, func(a, b TeamSeasons) int { return strings.Compare(a.Team, b.Team) })
	return out
}
