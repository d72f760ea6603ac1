package catalog

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gridstat/pfr-crawler/pkg/entity"
	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Detail parsers return one value per detail column they know. Missing
// fields are left out and end up Absent; only a missing anchor element is an
// error.

// parseCoach reads the "Born:" paragraph of a coach page.
func parseCoach(doc *goquery.Document) (map[string]models.Value, error) {
	sel, ok := locate.FindDiv(doc.Selection, "meta")
	meta, err := locate.Require(sel, ok, "div#meta")
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Value, 2)
	locate.FindParagraphs(meta).EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := strings.Join(strings.Fields(locate.Text(p)), " ")
		rest, found := strings.CutPrefix(text, "Born:")
		if !found {
			return true
		}
		date, place, hasPlace := strings.Cut(strings.TrimSpace(rest), " in ")
		if birth, ok := p.Find("[data-birth]").First().Attr("data-birth"); ok && birth != "" {
			out["birthday"] = models.Text(birth)
		} else if date = strings.TrimSpace(date); date != "" {
			out["birthday"] = models.Text(date)
		}
		if place = strings.TrimSpace(place); hasPlace && place != "" {
			out["birth_location"] = models.Text(place)
		}
		return false
	})
	return out, nil
}

// parseStadium reads div#info div#meta: the first paragraph is the street
// address, "Surfaces:" and "Super Bowls:" paragraphs carry the rest.
func parseStadium(doc *goquery.Document) (map[string]models.Value, error) {
	sel, ok := locate.FindDiv(doc.Selection, "info")
	info, err := locate.Require(sel, ok, "div#info")
	if err != nil {
		return nil, err
	}
	sel, ok = locate.FindDiv(info, "meta")
	meta, err := locate.Require(sel, ok, "div#info div#meta")
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Value, 3)
	locate.FindParagraphs(meta).Each(func(i int, p *goquery.Selection) {
		text := locate.Text(p)
		if i == 0 {
			out["street"] = models.Parse(text)
			return
		}
		switch {
		case strings.HasPrefix(text, "Surfaces"):
			out["surface"] = afterColon(text)
		case strings.HasPrefix(text, "Super Bowls"):
			out["super_bowls"] = afterColon(text)
		}
	})
	return out, nil
}

// boxscoreStats are the rows of a boxscore's team_stats table; each yields an
// away_ and a home_ column.
var boxscoreStats = []string{
	"First Downs", "Rush-Yds-TDs", "Cmp-Att-Yd-TD-INT", "Sacked-Yards",
	"Net Pass Yards", "Total Yards", "Fumbles-Lost", "Turnovers",
	"Penalties-Yards", "Third Down Conv.", "Fourth Down Conv.", "Time of Possession",
}

func boxscoreColumns() []string {
	names := []string{
		"away_team", "home_team", "away_score", "home_score",
		"game_day", "game_date", "start_time", "stadium_id", "attendance", "time_of_game",
		"won_toss", "roof", "vegas_line", "over_under", "referee",
	}
	for _, label := range boxscoreStats {
		id := utils.SanitizeIdentifier(label)
		names = append(names, "away_"+id, "home_"+id)
	}
	return names
}

// parseBoxscore reads the scorebox, the game info and officials tables and
// the team stats table of a boxscore page. The scorebox is required; the
// tables are optional.
func parseBoxscore(doc *goquery.Document) (map[string]models.Value, error) {
	sel, ok := locate.FindByClass(doc.Selection, "div", "scorebox")
	box, err := locate.Require(sel, ok, "div.scorebox")
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Value)

	var teams []string
	box.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if id, ok := entity.Extract(entity.Team, a.AttrOr("href", "")); ok && len(teams) < 2 {
			teams = append(teams, id)
		}
	})
	if len(teams) == 2 {
		out["away_team"] = models.Text(teams[0])
		out["home_team"] = models.Text(teams[1])
	}
	scores := box.Find("div.score")
	if scores.Length() >= 2 {
		out["away_score"] = models.Parse(locate.Text(scores.Eq(0)))
		out["home_score"] = models.Parse(locate.Text(scores.Eq(1)))
	}

	if meta, ok := locate.FindByClass(box, "div", "scorebox_meta"); ok {
		meta.ChildrenFiltered("div").Each(func(i int, div *goquery.Selection) {
			text := locate.Text(div)
			if i == 0 {
				day, date, _ := strings.Cut(text, " ")
				out["game_day"] = models.Parse(day)
				out["game_date"] = models.Parse(date)
				return
			}
			switch {
			case strings.HasPrefix(text, "Start Time"):
				out["start_time"] = afterColon(text)
			case strings.HasPrefix(text, "Stadium"):
				if id, ok := entity.ExtractFromSelection(entity.Stadium, div); ok {
					out["stadium_id"] = models.Text(id)
				}
			case strings.HasPrefix(text, "Attendance"):
				out["attendance"] = afterColon(text)
			case strings.HasPrefix(text, "Time of Game"):
				out["time_of_game"] = afterColon(text)
			}
		})
	}

	labelled := map[string]string{
		"Won Toss":   "won_toss",
		"Roof":       "roof",
		"Vegas Line": "vegas_line",
		"Over/Under": "over_under",
		"Referee":    "referee",
	}
	for _, id := range []string{"game_info", "officials"} {
		table, ok := locate.FindTable(doc.Selection, id)
		if !ok {
			continue
		}
		for _, row := range locate.RawTable(table).Rows {
			name, known := labelled[row.Label.Text]
			if !known || len(row.Cells) == 0 {
				continue
			}
			out[name] = models.Parse(row.Cells[0].Text)
		}
	}

	if table, ok := locate.FindTable(doc.Selection, "team_stats"); ok {
		for _, row := range locate.RawTable(table).Rows {
			if len(row.Cells) < 2 {
				continue
			}
			id := utils.SanitizeIdentifier(row.Label.Text)
			out["away_"+id] = models.Parse(row.Cells[0].Text)
			out["home_"+id] = models.Parse(row.Cells[1].Text)
		}
	}
	return out, nil
}

func afterColon(text string) models.Value {
	_, after, found := strings.Cut(text, ":")
	if !found {
		return models.Absent()
	}
	return models.Parse(after)
}
