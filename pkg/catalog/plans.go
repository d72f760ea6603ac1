package catalog

import (
	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/merge"
)

var teamKey = []string{"year", "team_id"}

func plans() map[string]merge.Plan {
	return map[string]merge.Plan{
		"offense": sidePlan("offense"),
		"defense": sidePlan("defense"),
	}
}

// sidePlan joins one side's team tables with playoff qualification:
// total, scoring, returning, punting, conversion, playoffs.
func sidePlan(side string) merge.Plan {
	var total, scoring, returning, punting []string
	var scoringDerived []assemble.Derivation
	var puntingPct []string

	if side == "offense" {
		total = []string{
			"games", "total_yards", "offensive_plays", "yards_per_play", "turnovers_lost",
			"first_downs", "passes_completed", "passes_attempted", "net_yards_gained_per_pass",
			"yards_passing", "touchdowns_passing", "interceptions", "rushing_attempted",
			"yards_rushing", "rushing_yards_per_attempt", "touchdowns_rushing",
			"penalties_opponent", "yards_penalties_opponent",
			"pct_drives_ending_score", "pct_drives_ending_turnover",
		}
		scoring = []string{
			"total_touchdowns", "two_points_made", "two_points_attempted",
			"extra_points_made", "extra_points_attempted",
			"field_goals_made", "field_goals_attempted", "points_per_game",
		}
		scoringDerived = []assemble.Derivation{
			{Name: "field_goal_pct", Numerator: "field_goals_made", Denominator: "field_goals_attempted"},
			{Name: "extra_point_pct", Numerator: "extra_points_made", Denominator: "extra_points_attempted"},
			{Name: "two_point_pct", Numerator: "two_points_made", Denominator: "two_points_attempted"},
		}
		returning = []string{
			"punts_returned", "yards_per_punt_return", "kickoffs_returned",
			"yards_per_kickoff_return", "all_purpose_yards",
		}
		punting = []string{"punts_avg_yards", "punts_touchback_pct", "punts_inside_20_pct"}
		puntingPct = []string{"punts_touchback_pct", "punts_inside_20_pct"}
	} else {
		total = []string{
			"games", "points_against", "total_yards", "defensive_plays", "yards_per_play",
			"takeaways", "first_downs", "passes_completed", "passes_attempted",
			"yards_passing", "touchdowns_passing", "interceptions", "net_yards_gained_per_pass",
			"rushing_attempted", "yards_rushing", "touchdowns_rushing", "rushing_yards_per_attempt",
			"penalties_commited", "yards_penalties_commited", "first_downs_penalties_commited",
			"pct_drives_ending_score", "pct_drives_ending_turnover",
		}
		scoring = []string{"total_touchdowns", "points_per_game"}
		returning = []string{
			"punts_returned", "yards_per_punt_return", "kickoffs_returned", "yards_per_kickoff_return",
		}
		punting = []string{"punts_avg_yards"}
	}

	conversion := []string{"third_down_conversion_pct", "fourth_down_conversion_pct", "red_zone_conversion_pct"}
	return merge.Plan{
		Name: side,
		Key:  teamKey,
		Steps: []merge.Step{
			{
				Category: "total_" + side,
				Columns:  total,
				Derived: []assemble.Derivation{
					{Name: "completion_pct", Numerator: "passes_completed", Denominator: "passes_attempted", Round: 3},
					{Name: "yards_per_game", Numerator: "total_yards", Denominator: "games"},
					{Name: "touchdown_interception_ratio", Numerator: "touchdowns_passing", Denominator: "interceptions"},
					{Name: "pass_run_ratio", Numerator: "passes_attempted", Denominator: "rushing_attempted"},
				},
			},
			{Category: "scoring_" + side, Columns: scoring, Derived: scoringDerived},
			{Category: "returning_" + side, Columns: returning},
			{Category: "punting_" + side, Columns: punting, Percent: puntingPct},
			{Category: "conversion_" + side, Columns: conversion, Percent: conversion},
			{Category: "playoffs", Columns: []string{"made_playoffs"}},
		},
	}
}
