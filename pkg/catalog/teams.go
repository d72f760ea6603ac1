package catalog

import (
	"slices"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/entity"
)

// teamTable is one per-team season table of the offense or defense page.
type teamTable struct {
	suffix  string // category name is suffix + "_" + side
	table   string
	desc    string
	columns []string // data cells after the team cell
	percent []string
}

var totalOffense = []string{
	"games", "points_for", "total_yards", "offensive_plays", "yards_per_play",
	"turnovers_lost", "fumbles_lost", "first_downs", "passes_completed",
	"passes_attempted", "yards_passing", "touchdowns_passing", "interceptions",
	"net_yards_gained_per_pass", "first_downs_passing", "rushing_attempted",
	"yards_rushing", "touchdowns_rushing", "rushing_yards_per_attempt",
	"first_downs_rushing", "penalties_opponent", "yards_penalties_opponent",
	"first_downs_penalties_opponent", "pct_drives_ending_score",
	"pct_drives_ending_turnover", "expected_point_contr",
}

var totalDefense = []string{
	"games", "points_against", "total_yards", "defensive_plays", "yards_per_play",
	"takeaways", "fumbles_won", "first_downs", "passes_completed",
	"passes_attempted", "yards_passing", "touchdowns_passing", "interceptions",
	"net_yards_gained_per_pass", "first_downs_passing", "rushing_attempted",
	"yards_rushing", "touchdowns_rushing", "rushing_yards_per_attempt",
	"first_downs_rushing", "penalties_commited", "yards_penalties_commited",
	"first_downs_penalties_commited", "pct_drives_ending_score",
	"pct_drives_ending_turnover", "expected_point_contr",
}

func sideTables(side string) []teamTable {
	total := totalOffense
	if side == "defense" {
		total = totalDefense
	}
	return []teamTable{
		{suffix: "total", table: "team_stats", desc: "team totals", columns: total},
		{suffix: "scoring", table: "team_scoring", desc: "scoring summary", columns: []string{
			"games", "touchdowns_rushing", "touchdowns_passing", "touchdowns_punt_returns",
			"touchdowns_kickoff_returns", "touchdowns_fumbles", "touchdowns_interceptions",
			"touchdowns_other", "total_touchdowns", "two_points_made", "two_points_attempted",
			"defensive_two_points_made", "extra_points_made", "extra_points_attempted",
			"field_goals_made", "field_goals_attempted", "safeties", "total_points",
			"points_per_game",
		}},
		{suffix: "passing", table: "passing", desc: "passing", columns: []string{
			"games", "passes_completed", "passes_attempted", "completion_pct",
			"yards_passing", "touchdowns_passing", "touchdown_pct", "interceptions",
			"interception_pct", "longest_pass", "yards_gained_per_pass",
			"adjusted_yards_gained_per_pass", "yards_per_completion", "yards_per_game",
			"rate", "sacks", "sacks_yards", "sack_pct", "net_yards_gained_per_pass",
			"adjusted_net_yards_gained_per_pass", "fourth_quarter_comebacks",
			"game_winning_drives", "expected_point_contr",
		}},
		{suffix: "rushing", table: "rushing", desc: "rushing", columns: []string{
			"games", "rushing_attempted", "yards_rushing", "touchdowns_rushing",
			"longest_rush", "rushing_yards_per_attempt", "rushing_yards_per_game",
			"fumbles_total", "expected_point_contr",
		}},
		{suffix: "returning", table: "returns", desc: "punt and kick returns", columns: []string{
			"games", "punts_returned", "punt_return_yards", "touchdowns_punt_returns",
			"longest_punt_return", "yards_per_punt_return", "kickoffs_returned",
			"kickoff_return_yards", "touchdowns_kickoff_returns", "longest_kickoff_return",
			"yards_per_kickoff_return", "all_purpose_yards",
		}},
		{suffix: "kicking", table: "kicking", desc: "kicking", columns: []string{
			"games",
			"field_goals_attempted_0_19", "field_goals_made_0_19",
			"field_goals_attempted_20_29", "field_goals_made_20_29",
			"field_goals_attempted_30_39", "field_goals_made_30_39",
			"field_goals_attempted_40_49", "field_goals_made_40_49",
			"field_goals_attempted_50_plus", "field_goals_made_50_plus",
			"field_goals_attempted", "field_goals_made", "longest_field_goal",
			"field_goal_pct", "extra_points_attempted", "extra_points_made",
			"extra_points_pct", "kickoffs", "kickoff_yards", "kickoff_touchbacks",
			"touchback_pct", "kickoff_avg_yards",
		}, percent: []string{"field_goal_pct", "extra_points_pct", "touchback_pct"}},
		{suffix: "punting", table: "punting", desc: "punting", columns: []string{
			"games", "punts", "punt_yards", "punts_avg_yards", "punt_return_yards_opponent",
			"punt_net_yards", "punt_net_yards_per_punt", "longest_punt", "punts_touchback",
			"punts_touchback_pct", "punts_inside_20", "punts_inside_20_pct", "punts_blocked",
		}, percent: []string{"punts_touchback_pct", "punts_inside_20_pct"}},
		{suffix: "conversion", table: "team_conversions", desc: "third/fourth down and red zone", columns: []string{
			"games", "third_downs_attempted", "third_downs_converted", "third_down_conversion_pct",
			"fourth_downs_attempted", "fourth_downs_converted", "fourth_down_conversion_pct",
			"red_zones_attempted", "red_zones_converted", "red_zone_conversion_pct",
		}, percent: []string{"third_down_conversion_pct", "fourth_down_conversion_pct", "red_zone_conversion_pct"}},
		{suffix: "drives", table: "drives", desc: "drive averages", columns: []string{
			"games", "drives", "plays", "pct_drives_ending_score", "pct_drives_ending_turnover",
			"plays_avg", "yards_avg", "start", "time_avg", "points_avg",
		}},
	}
}

// teamCategories returns the per-team season tables of one side of the ball.
// Offense tables live on the season page, defense tables on opp.htm.
func teamCategories(base, side string) []Category {
	page := URLTemplate(base + "/years/{year}/")
	if side == "defense" {
		page = URLTemplate(base + "/years/{year}/opp.htm")
	}
	tables := sideTables(side)
	cats := make([]Category, 0, len(tables))
	for _, t := range tables {
		name := t.suffix + "_" + side
		cats = append(cats, Category{
			Name:        name,
			Group:       side,
			Description: side + " " + t.desc,
			URL:         page,
			Tables:      []string{t.table},
			Schema: assemble.Schema{
				Name:    name,
				Columns: teamColumns(t.columns, t.percent),
				KeyID:   "team_id",
			},
		})
	}
	return cats
}

// teamColumns lays out year, rank (the row th), team_id (from the team cell)
// and one column per remaining cell.
func teamColumns(cells, percent []string) []assemble.Column {
	cols := []assemble.Column{
		{Name: "year", Source: assemble.Year},
		{Name: "rank", Source: assemble.LabelText},
		{Name: "team_id", Source: assemble.CellID, Kind: entity.Team},
	}
	for _, name := range cells {
		c := assemble.Column{Name: name, Source: assemble.CellText}
		if slices.Contains(percent, name) {
			c.Transform = assemble.Percent
		}
		cols = append(cols, c)
	}
	return cols
}
