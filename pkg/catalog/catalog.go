// Package catalog holds the page layouts the crawler knows: URL templates,
// table ids, column schemas, detail pages and merge plans.
//
// A Catalog is built per run from Options; nothing here is global.
package catalog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/entity"
	"github.com/gridstat/pfr-crawler/pkg/locate"
	"github.com/gridstat/pfr-crawler/pkg/merge"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// URLTemplate is a page address with {year}, {week}, {position} and {id}
// placeholders.
type URLTemplate string

// Expand substitutes placeholders. Unknown placeholders are left as is.
func (t URLTemplate) Expand(vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(string(t))
}

// DetailPage describes the per-entity page that fills a category's Detail
// columns.
type DetailPage struct {
	Kind     entity.Kind
	IDColumn string // column holding the entity id
	URL      URLTemplate
	Parse    func(doc *goquery.Document) (map[string]models.Value, error)
}

// Category is one crawlable table family.
type Category struct {
	Name        string
	Group       string // offense, defense, league, fantasy
	Description string
	URL         URLTemplate
	Tables      []string // rows of each table are assembled separately
	Schema      assemble.Schema
	YearLess    bool // fetched once, Key.Year 0
	Weekly      bool // one unit per regular-season week
	Position    string
	Detail      *DetailPage
}

// PageURL returns the page of one unit.
func (c Category) PageURL(year, week int) string {
	return c.URL.Expand(map[string]string{
		"year":     strconv.Itoa(year),
		"week":     strconv.Itoa(week),
		"position": c.Position,
	})
}

// Context returns the assembly context of one unit.
func (c Category) Context(year, week int) assemble.Context {
	ctx := assemble.Context{Year: year}
	if c.Weekly {
		ctx.Sub = c.Position + ":" + strconv.Itoa(week)
		ctx.Params = map[string]string{"week": strconv.Itoa(week), "position": c.Position}
	}
	return ctx
}

// Extract locates the category's tables in doc. A missing or empty table is
// a structural mismatch: the page has not rendered it (yet).
func (c Category) Extract(doc *goquery.Document) ([]models.RawTableUnit, error) {
	units := make([]models.RawTableUnit, 0, len(c.Tables))
	for _, id := range c.Tables {
		sel, ok := locate.FindTable(doc.Selection, id)
		table, err := locate.Require(sel, ok, "table#"+id)
		if err != nil {
			return nil, err
		}
		unit := locate.RawTable(table)
		if len(unit.Rows) == 0 {
			return nil, fmt.Errorf("%w: table#%s has no rows", utils.ErrStructuralMismatch, id)
		}
		units = append(units, unit)
	}
	return units, nil
}

// Options configure catalog construction.
type Options struct {
	BaseURL        string
	FantasyBaseURL string
	Positions      []string
	// InsertRules replaces the built-in insert rules of the named categories.
	InsertRules map[string][]assemble.InsertRule
}

// Catalog is the set of known categories and merge plans.
type Catalog struct {
	categories []Category
	byName     map[string]int
	plans      map[string]merge.Plan
}

// New builds the catalog and validates every schema.
func New(opts Options) (*Catalog, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	fantasy := strings.TrimRight(opts.FantasyBaseURL, "/")

	var cats []Category
	cats = append(cats, teamCategories(base, "offense")...)
	cats = append(cats, teamCategories(base, "defense")...)
	cats = append(cats, standings(base), playoffs(base), coaches(base), stadiums(base), games(base))
	for _, pos := range opts.Positions {
		cats = append(cats, fantasyPosition(fantasy, strings.ToLower(strings.TrimSpace(pos))))
	}

	c := &Catalog{byName: make(map[string]int, len(cats)), plans: plans()}
	for i := range cats {
		cat := &cats[i]
		if _, dup := c.byName[cat.Name]; dup {
			return nil, fmt.Errorf("%w: category %s declared twice", utils.ErrConfigValidation, cat.Name)
		}
		if rules, ok := opts.InsertRules[cat.Name]; ok {
			cat.Schema.Inserts = slices.Clone(rules)
		}
		if err := cat.Schema.Validate(); err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}
		c.byName[cat.Name] = i
	}
	for name := range opts.InsertRules {
		if _, ok := c.byName[name]; !ok {
			return nil, fmt.Errorf("%w: insert_rules for unknown category %q", utils.ErrConfigValidation, name)
		}
	}
	c.categories = cats
	return c, nil
}

// Categories returns every category in catalog order.
func (c *Catalog) Categories() []Category { return slices.Clone(c.categories) }

func (c *Catalog) Get(name string) (Category, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// Select resolves category names (or group names such as "offense") in
// catalog order. No names selects everything.
func (c *Catalog) Select(names []string) ([]Category, error) {
	if len(names) == 0 {
		return c.Categories(), nil
	}
	want := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if _, ok := c.byName[n]; ok {
			want[n] = true
			continue
		}
		found := false
		for _, cat := range c.categories {
			if cat.Group == n {
				want[cat.Name] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown category or group %q", utils.ErrConfigValidation, n)
		}
	}
	var out []Category
	for _, cat := range c.categories {
		if want[cat.Name] {
			out = append(out, cat)
		}
	}
	return out, nil
}

// Plan returns a named merge plan.
func (c *Catalog) Plan(name string) (merge.Plan, bool) {
	p, ok := c.plans[name]
	return p, ok
}

// PlanNames returns the merge plan names, sorted.
func (c *Catalog) PlanNames() []string {
	names := make([]string, 0, len(c.plans))
	for n := range c.plans {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
