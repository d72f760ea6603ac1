// Package merge joins per-category datasets into one denormalized table.
package merge

import (
	"fmt"
	"slices"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Step projects columns of one category into the merged table. Percent
// columns are normalised to ratios; Derived columns are computed from the
// step's own record.
type Step struct {
	Category string
	Columns  []string
	Percent  []string
	Derived  []assemble.Derivation
}

// Plan is an ordered list of steps. The first step is the base; every
// further step is inner-joined on (year, id). Key names the base columns
// written first; Derived runs over the finished row.
type Plan struct {
	Name    string
	Key     []string
	Steps   []Step
	Derived []assemble.Derivation
}

// Report counts what the join dropped.
type Report struct {
	Plan       string
	BaseRows   int
	Rows       int
	Missing    map[string]int // base rows with no match, by step category
	Duplicates map[string]int // rows sharing (year, id) with an earlier row of the same category, dropped
}

// joinKey drops the sub-unit so that per-team categories line up.
func joinKey(k models.Key) models.Key { return models.Key{Year: k.Year, ID: k.ID} }

// Columns returns the header the plan produces.
func (p Plan) Columns() []string {
	cols := slices.Clone(p.Key)
	for _, s := range p.Steps {
		for _, c := range s.Columns {
			if !slices.Contains(p.Key, c) {
				cols = append(cols, c)
			}
		}
		for _, d := range s.Derived {
			cols = append(cols, d.Name)
		}
	}
	for _, d := range p.Derived {
		cols = append(cols, d.Name)
	}
	return cols
}

// Validate checks the plan against the datasets it will read.
func (p Plan) Validate(datasets map[string]*models.Dataset) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: merge plan %q has no steps", utils.ErrConfigValidation, p.Name)
	}
	seen := make(map[string]bool)
	for _, c := range p.Columns() {
		if seen[c] {
			return fmt.Errorf("%w: merge plan %q produces column %q twice", utils.ErrConfigValidation, p.Name, c)
		}
		seen[c] = true
	}
	for _, d := range p.Derived {
		if !seen[d.Numerator] || !seen[d.Denominator] {
			return fmt.Errorf("%w: merge plan %q derives %q from columns it does not produce",
				utils.ErrConfigValidation, p.Name, d.Name)
		}
	}
	for i, s := range p.Steps {
		ds, ok := datasets[s.Category]
		if !ok || ds == nil {
			return fmt.Errorf("%w: merge plan %q needs dataset %q", utils.ErrJoinKeyMissing, p.Name, s.Category)
		}
		need := slices.Clone(s.Columns)
		if i == 0 {
			need = append(need, p.Key...)
		}
		for _, d := range s.Derived {
			need = append(need, d.Numerator, d.Denominator)
		}
		for _, c := range need {
			if _, ok := ds.ColumnIndex(c); !ok {
				return fmt.Errorf("%w: dataset %q has no column %q", utils.ErrStructuralMismatch, s.Category, c)
			}
		}
	}
	return nil
}

// Merge runs plan over datasets. Output rows follow the base dataset's order,
// so merging the same inputs twice gives the same table.
func Merge(plan Plan, datasets map[string]*models.Dataset) (*models.Dataset, Report, error) {
	report := Report{Plan: plan.Name, Missing: make(map[string]int), Duplicates: make(map[string]int)}
	if err := plan.Validate(datasets); err != nil {
		return nil, report, err
	}
	columns := plan.Columns()
	out := models.NewDataset(plan.Name, columns)
	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[c] = i
	}

	indexes := make([]map[models.Key]models.Record, len(plan.Steps))
	for i, s := range plan.Steps[1:] {
		idx := make(map[models.Key]models.Record)
		for r := range datasets[s.Category].Records() {
			k := joinKey(r.Key)
			if _, dup := idx[k]; dup {
				report.Duplicates[s.Category]++
				continue
			}
			idx[k] = r
		}
		indexes[i+1] = idx
	}

	base := datasets[plan.Steps[0].Category]
rows:
	for rec := range base.Records() {
		report.BaseRows++
		key := joinKey(rec.Key)
		values := make([]models.Value, 0, len(columns))
		for _, k := range plan.Key {
			values = append(values, base.Get(rec, k))
		}
		for i, s := range plan.Steps {
			r := rec
			if i > 0 {
				var ok bool
				if r, ok = indexes[i][key]; !ok {
					report.Missing[s.Category]++
					continue rows
				}
			}
			values = append(values, project(s, plan.Key, datasets[s.Category], r)...)
		}
		values = append(values, make([]models.Value, len(plan.Derived))...)
		for j, d := range plan.Derived {
			values[len(columns)-len(plan.Derived)+j] = assemble.Ratio(
				values[colIndex[d.Numerator]], values[colIndex[d.Denominator]], d.Round)
		}
		if err := out.Append(models.Record{Key: key, Values: values}); err != nil {
			report.Duplicates[plan.Steps[0].Category]++
			continue
		}
		report.Rows++
	}
	return out, report, nil
}

func project(s Step, key []string, ds *models.Dataset, r models.Record) []models.Value {
	vals := make([]models.Value, 0, len(s.Columns)+len(s.Derived))
	for _, c := range s.Columns {
		if slices.Contains(key, c) {
			continue
		}
		v := ds.Get(r, c)
		if slices.Contains(s.Percent, c) {
			v = models.ParsePercent(v)
		}
		vals = append(vals, v)
	}
	for _, d := range s.Derived {
		vals = append(vals, assemble.Ratio(ds.Get(r, d.Numerator), ds.Get(r, d.Denominator), d.Round))
	}
	return vals
}
