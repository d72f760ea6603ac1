package catalog

import (
	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/entity"
)

func cells(names ...string) []assemble.Column {
	cols := make([]assemble.Column, 0, len(names))
	for _, n := range names {
		cols = append(cols, assemble.Column{Name: n, Source: assemble.CellText})
	}
	return cols
}

func details(names ...string) []assemble.Column {
	cols := make([]assemble.Column, 0, len(names))
	for _, n := range names {
		cols = append(cols, assemble.Column{Name: n, Source: assemble.Detail})
	}
	return cols
}

func join(groups ...[]assemble.Column) []assemble.Column {
	var out []assemble.Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var yearColumn = assemble.Column{Name: "year", Source: assemble.Year}

// standings covers the AFC and NFC season tables. Seasons without a tie in
// the conference omit the T column, so an 11-cell row gets a 0 inserted.
func standings(base string) Category {
	return Category{
		Name:        "standings",
		Group:       "league",
		Description: "conference standings",
		URL:         URLTemplate(base + "/years/{year}/"),
		Tables:      []string{"AFC", "NFC"},
		Schema: assemble.Schema{
			Name: "standings",
			Columns: join(
				[]assemble.Column{
					yearColumn,
					{Name: "team", Source: assemble.LabelText, Transform: assemble.TrimMarkers},
					{Name: "team_id", Source: assemble.LabelID, Kind: entity.Team},
				},
				cells("wins", "losses", "ties", "win_pct", "points_for", "points_allowed",
					"points_differential", "margin_of_victory", "strength_of_schedule",
					"simple_rating_system", "offensive_srs", "defensive_srs"),
			),
			MinCells: 4,
			Inserts:  []assemble.InsertRule{{WhenCells: 11, At: 2, Default: "0"}},
			KeyID:    "team_id",
		},
	}
}

// playoffs reads the seeded conference standings. The seat is the row's
// position within its conference table; a trailing "(n)" seed on the team
// label marks a playoff team.
func playoffs(base string) Category {
	return Category{
		Name:        "playoffs",
		Group:       "league",
		Description: "playoff seeding and qualification",
		URL:         URLTemplate(base + "/years/{year}/"),
		Tables:      []string{"afc_playoff_standings", "nfc_playoff_standings"},
		Schema: assemble.Schema{
			Name: "playoffs",
			Columns: join(
				[]assemble.Column{
					yearColumn,
					{Name: "team_id", Source: assemble.LabelID, Kind: entity.Team},
					{Name: "seat", Source: assemble.RowIndex},
				},
				cells("wins", "losses", "ties", "position", "reason"),
				[]assemble.Column{{Name: "made_playoffs", Source: assemble.LabelFlag, Marker: ")"}},
			),
			MinCells: 3,
			Inserts:  []assemble.InsertRule{{WhenCells: 4, At: 2, Default: "0"}},
			KeyID:    "team_id",
		},
	}
}

// coaches keys on coach and team: a coach replaced mid-season appears once
// per team.
func coaches(base string) Category {
	return Category{
		Name:        "coaches",
		Group:       "league",
		Description: "head coaches with birth details",
		URL:         URLTemplate(base + "/years/{year}/coaches.htm"),
		Tables:      []string{"coaches"},
		Schema: assemble.Schema{
			Name: "coaches",
			Columns: join(
				[]assemble.Column{
					yearColumn,
					{Name: "coach_id", Source: assemble.LabelID, Kind: entity.Coach},
					{Name: "coach_name", Source: assemble.LabelText},
				},
				details("birthday", "birth_location"),
				[]assemble.Column{{Name: "team_id", Source: assemble.CellID, Kind: entity.Team}},
				cells("games", "wins", "losses", "ties",
					"games_with_team", "wins_with_team", "losses_with_team", "ties_with_team",
					"games_career", "wins_career", "losses_career", "ties_career",
					"playoff_games", "playoff_wins", "playoff_losses",
					"playoff_games_team", "playoff_wins_team", "playoff_losses_team",
					"playoff_games_career", "playoff_wins_career", "playoff_losses_career",
					"remark"),
			),
			KeyID:  "coach_id",
			KeySub: "team_id",
		},
		Detail: &DetailPage{
			Kind:     entity.Coach,
			IDColumn: "coach_id",
			URL:      URLTemplate(base + "/coaches/{id}.htm"),
			Parse:    parseCoach,
		},
	}
}

func stadiums(base string) Category {
	return Category{
		Name:        "stadiums",
		Group:       "league",
		Description: "stadium directory (not per season)",
		URL:         URLTemplate(base + "/stadiums/"),
		Tables:      []string{"stadiums"},
		YearLess:    true,
		Schema: assemble.Schema{
			Name: "stadiums",
			Columns: join(
				[]assemble.Column{
					{Name: "stadium_id", Source: assemble.LabelID, Kind: entity.Stadium},
					{Name: "stadium_name", Source: assemble.LabelText},
				},
				cells("from", "to", "games", "city", "state", "primary_team"),
				details("street", "surface", "super_bowls"),
			),
			KeyID: "stadium_id",
		},
		Detail: &DetailPage{
			Kind:     entity.Stadium,
			IDColumn: "stadium_id",
			URL:      URLTemplate(base + "/stadiums/{id}.htm"),
			Parse:    parseStadium,
		},
	}
}

// games reads the season schedule. Old seasons have no kickoff time
// column; those rows get an empty time.
func games(base string) Category {
	cols := join(
		[]assemble.Column{
			yearColumn,
			{Name: "week", Source: assemble.LabelText},
		},
		cells("day", "date", "time"),
		[]assemble.Column{
			{Name: "winner", Source: assemble.CellText, Transform: assemble.TrimMarkers, Peek: true},
			{Name: "winner_id", Source: assemble.CellID, Kind: entity.Team},
			{Name: "game_location", Source: assemble.CellText, Transform: assemble.Raw},
			{Name: "loser", Source: assemble.CellText, Transform: assemble.TrimMarkers, Peek: true},
			{Name: "loser_id", Source: assemble.CellID, Kind: entity.Team},
			{Name: "game_id", Source: assemble.CellID, Kind: entity.Game},
		},
		cells("pts_winner", "pts_loser", "yards_winner", "turnovers_winner", "yards_loser", "turnovers_loser"),
		details(boxscoreColumns()...),
	)
	return Category{
		Name:        "games",
		Group:       "league",
		Description: "schedule and results with boxscore details",
		URL:         URLTemplate(base + "/years/{year}/games.htm"),
		Tables:      []string{"games"},
		Schema: assemble.Schema{
			Name:     "games",
			Columns:  cols,
			MinCells: 8,
			Inserts:  []assemble.InsertRule{{WhenCells: 12, At: 2, Default: ""}},
			KeyID:    "game_id",
		},
		Detail: &DetailPage{
			Kind:     entity.Game,
			IDColumn: "game_id",
			URL:      URLTemplate(base + "/boxscores/{id}.htm"),
			Parse:    parseBoxscore,
		},
	}
}

// fantasyPosition reads one position's weekly stat table. Columns after the
// player cell follow the page header, which differs per position.
func fantasyPosition(base, position string) Category {
	name := "fantasy_" + position
	return Category{
		Name:        name,
		Group:       "fantasy",
		Description: "weekly fantasy stats for " + position,
		URL:         URLTemplate(base + "/nfl/stats/{position}.php?year={year}&roster=consensus&range=week&week={week}"),
		Tables:      []string{"data"},
		Weekly:      true,
		Position:    position,
		Schema: assemble.Schema{
			Name: name,
			Columns: []assemble.Column{
				yearColumn,
				{Name: "week", Source: assemble.Param, Param: "week"},
				{Name: "position", Source: assemble.Param, Param: "position", Transform: assemble.Raw},
				{Name: "rank", Source: assemble.CellText},
				{Name: "player", Source: assemble.CellText, Transform: assemble.BeforeParen, Peek: true},
				{Name: "player_id", Source: assemble.CellID, Kind: entity.Player, Peek: true},
				{Name: "team", Source: assemble.CellText, Transform: assemble.InParen},
			},
			MinCells:         3,
			KeyID:            "player_id",
			KeyFallback:      "player", // team defenses link to a team page
			HeaderTail:       true,
			TailHeaderOffset: 2,
		},
	}
}
