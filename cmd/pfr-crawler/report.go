package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/gridstat/pfr-crawler/pkg/catalog"
	"github.com/gridstat/pfr-crawler/pkg/merge"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/orchestrate"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func scopeOf(c catalog.Category) string {
	switch {
	case c.YearLess:
		return "once"
	case c.Weekly:
		return "weekly"
	default:
		return "season"
	}
}

// renderCategories prints every category and merge plan of the catalog.
func renderCategories(w io.Writer, cat *catalog.Catalog) {
	t := newTable(w, "Categories")
	t.AppendHeader(table.Row{"Name", "Group", "Scope", "Columns", "Detail", "Description"})
	for _, c := range cat.Categories() {
		detail := ""
		if c.Detail != nil {
			detail = string(c.Detail.Kind)
		}
		t.AppendRow(table.Row{c.Name, c.Group, scopeOf(c), len(c.Schema.Columns), detail, c.Description})
	}
	t.Render()

	p := newTable(w, "Merge plans")
	p.AppendHeader(table.Row{"Plan", "Categories", "Columns"})
	for _, name := range cat.PlanNames() {
		plan, _ := cat.Plan(name)
		steps := make([]string, len(plan.Steps))
		for i, s := range plan.Steps {
			steps[i] = s.Category
		}
		p.AppendRow(table.Row{name, strings.Join(steps, ", "), len(plan.Columns())})
	}
	p.Render()
}

// renderRunSummary prints per-category record counts and unit totals.
func renderRunSummary(w io.Writer, result *orchestrate.RunResult, categories []catalog.Category) {
	failed := make(map[string]int)
	for _, u := range result.Units {
		if u.Status != models.UnitStatusSuccess && u.Status != models.UnitStatusUnset {
			failed[u.Unit.Category]++
		}
	}

	t := newTable(w, "Run "+result.RunID)
	t.AppendHeader(table.Row{"Category", "Records", "Seasons", "Failed units"})
	for _, c := range categories {
		records, seasons := 0, 0
		if ds := result.Datasets[c.Name]; ds != nil {
			records, seasons = ds.Len(), len(ds.Years())
		}
		t.AppendRow(table.Row{c.Name, records, seasons, failed[c.Name]})
	}
	t.Render()

	fmt.Fprintf(w, "Units: %d ok, %d resumed, %d failed, %d interrupted, %d not started.\n",
		result.Succeeded, result.Resumed, result.Failed, result.Interrupted, result.NotStarted)
	fmt.Fprintf(w, "Rows: %d accepted, %d skipped, %d unresolved links, %d duplicates. Detail pages: %d fetched, %d failed. Took %v.\n",
		result.Stats.Accepted, result.Stats.Skipped, result.Stats.Unresolved, result.Stats.Duplicates,
		result.DetailFetches, result.DetailFailures, result.Duration.Round(time.Millisecond))
}

// renderMergeReports prints what each merge plan kept and dropped.
func renderMergeReports(w io.Writer, reports []merge.Report) {
	if len(reports) == 0 {
		return
	}
	t := newTable(w, "Merged tables")
	t.AppendHeader(table.Row{"Plan", "Base rows", "Rows", "Duplicates", "Unmatched"})
	for _, r := range reports {
		t.AppendRow(table.Row{r.Plan, r.BaseRows, r.Rows, countsByCategory(r.Duplicates), countsByCategory(r.Missing)})
	}
	t.Render()
}

// countsByCategory formats non-zero counts as "category=n" pairs.
func countsByCategory(counts map[string]int) string {
	var parts []string
	for _, c := range slices.Sorted(maps.Keys(counts)) {
		if counts[c] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", c, counts[c]))
		}
	}
	return strings.Join(parts, " ")
}

func renderTeams(w io.Writer, teams []orchestrate.TeamSeasons) {
	t := newTable(w, "Teams")
	t.AppendHeader(table.Row{"Team", "First", "Last", "Seasons"})
	for _, ts := range teams {
		t.AppendRow(table.Row{ts.Team, ts.First, ts.Last, ts.Seasons})
	}
	t.Render()
}
