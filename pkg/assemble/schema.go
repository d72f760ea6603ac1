package assemble

import (
	"fmt"
	"strings"

	"github.com/gridstat/pfr-crawler/pkg/entity"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Source says where a column's value comes from.
type Source int

const (
	Year       Source = iota // Context.Year
	SubUnit                  // Context.Sub
	Param                    // Context.Params[Column.Param]
	RowIndex                 // 1-based position of the row in its table
	LabelText                // text of the row's th
	LabelID                  // entity id from the th hyperlink
	LabelFlag                // Bool: th text ends with Column.Marker
	CellText                 // text of the next data cell
	CellID                   // entity id from the next data cell's hyperlink
	Detail                   // filled from an entity detail page after assembly
	Const                    // Column.Value
)

func (s Source) consumesCell() bool { return s == CellText || s == CellID }

// Transform post-processes a cell text before typing.
type Transform int

const (
	Auto        Transform = iota // numeric text becomes Number, else Text
	Percent                      // "42.5%" -> 0.425
	Number                       // non-numeric -> Absent
	Raw                          // keep as Text even when numeric
	TrimMarkers                  // drop trailing "*", "+" and a " (n)" seed, then Auto
	BeforeParen                  // "Name (TEAM)" -> "Name"
	InParen                      // "Name (TEAM)" -> "TEAM"
	BeforeSep                    // text before Column.Sep
	AfterSep                     // text after Column.Sep
)

// Column describes one output column.
type Column struct {
	Name      string
	Source    Source
	Transform Transform
	Kind      entity.Kind // LabelID, CellID
	Marker    string      // LabelFlag
	Param     string      // Param
	Value     string      // Const
	Sep       string      // BeforeSep, AfterSep
	Peek      bool        // Cell sources read the next cell without consuming it
}

// Derivation computes Name = Numerator / Denominator. A zero or absent
// denominator yields Absent.
type Derivation struct {
	Name        string
	Numerator   string
	Denominator string
	Round       int // decimal places; 0 = no rounding
}

// InsertRule repairs a known layout variant: when a row has exactly
// WhenCells data cells, a cell holding Default is inserted at index At.
type InsertRule struct {
	WhenCells int
	At        int
	Default   string
}

// Schema maps the rows of one table layout to records.
type Schema struct {
	Name    string
	Columns []Column
	Derived []Derivation

	// MinCells is the data-cell count below which a row is a separator and
	// skipped silently.
	MinCells int
	Inserts  []InsertRule

	// KeyID names the column holding the record identifier. KeyFallback is
	// read when KeyID is absent. KeySub optionally names a column appended to
	// Context.Sub to form Key.Sub.
	KeyID       string
	KeyFallback string
	KeySub      string

	// HeaderTail appends one column per page header label from
	// TailHeaderOffset on, fed by the data cells left after Columns.
	HeaderTail       bool
	TailHeaderOffset int
}

const defaultMinCells = 4

// Validate checks the schema and applies defaults.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: schema without name", utils.ErrConfigValidation)
	}
	if s.MinCells <= 0 {
		s.MinCells = defaultMinCells
	}
	seen := make(map[string]bool)
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed column", utils.ErrConfigValidation, s.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: %s column %q declared twice", utils.ErrConfigValidation, s.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Source {
		case LabelID, CellID:
			if _, err := entity.ParseKind(string(c.Kind)); err != nil {
				return fmt.Errorf("%s column %s: %w", s.Name, c.Name, err)
			}
		case LabelFlag:
			if c.Marker == "" {
				return fmt.Errorf("%w: %s flag column %s has no marker", utils.ErrConfigValidation, s.Name, c.Name)
			}
		case Param:
			if c.Param == "" {
				return fmt.Errorf("%w: %s column %s has no param", utils.ErrConfigValidation, s.Name, c.Name)
			}
		}
		if (c.Transform == BeforeSep || c.Transform == AfterSep) && c.Sep == "" {
			return fmt.Errorf("%w: %s column %s has no separator", utils.ErrConfigValidation, s.Name, c.Name)
		}
	}
	for _, d := range s.Derived {
		if !s.HeaderTail && (!seen[d.Numerator] || !seen[d.Denominator]) {
			return fmt.Errorf("%w: %s derived column %q reads undeclared columns",
				utils.ErrConfigValidation, s.Name, d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %s derived column %q collides", utils.ErrConfigValidation, s.Name, d.Name)
		}
		seen[d.Name] = true
	}
	if !seen[s.KeyID] {
		return fmt.Errorf("%w: %s key column %q not declared", utils.ErrConfigValidation, s.Name, s.KeyID)
	}
	if s.KeyFallback != "" && !seen[s.KeyFallback] {
		return fmt.Errorf("%w: %s fallback key column %q not declared", utils.ErrConfigValidation, s.Name, s.KeyFallback)
	}
	if s.KeySub != "" && !seen[s.KeySub] {
		return fmt.Errorf("%w: %s sub-key column %q not declared", utils.ErrConfigValidation, s.Name, s.KeySub)
	}
	for _, r := range s.Inserts {
		if r.WhenCells <= 0 || r.At < 0 || r.At > r.WhenCells {
			return fmt.Errorf("%w: %s insert rule when=%d at=%d", utils.ErrConfigValidation, s.Name, r.WhenCells, r.At)
		}
	}
	return nil
}

// fixedCells is the number of data cells Columns consume.
func (s *Schema) fixedCells() int {
	n := 0
	for _, c := range s.Columns {
		if c.Source.consumesCell() && !c.Peek {
			n++
		}
	}
	return n
}

func (s *Schema) insertFor(cells int) (InsertRule, bool) {
	for _, r := range s.Inserts {
		if r.WhenCells == cells {
			return r, true
		}
	}
	return InsertRule{}, false
}

// DetailColumns returns the names of columns filled from detail pages.
func (s *Schema) DetailColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Source == Detail {
			names = append(names, c.Name)
		}
	}
	return names
}

// apply runs a transform over raw cell text.
func apply(t Transform, sep, raw string) models.Value {
	text := strings.TrimSpace(raw)
	switch t {
	case Percent:
		return models.ParsePercent(models.Text(text))
	case Number:
		if f, ok := models.Text(text).Float(); ok {
			return models.Number(f)
		}
		return models.Absent()
	case Raw:
		if text == "" {
			return models.Absent()
		}
		return models.Text(text)
	case TrimMarkers:
		return models.Parse(trimMarkers(text))
	case BeforeParen:
		if i := strings.Index(text, "("); i >= 0 {
			text = text[:i]
		}
		return models.Parse(text)
	case InParen:
		i := strings.Index(text, "(")
		j := strings.LastIndex(text, ")")
		if i < 0 || j <= i {
			return models.Absent()
		}
		return models.Parse(text[i+1 : j])
	case BeforeSep:
		before, _, _ := strings.Cut(text, sep)
		return models.Parse(before)
	case AfterSep:
		_, after, found := strings.Cut(text, sep)
		if !found {
			return models.Absent()
		}
		return models.Parse(after)
	}
	return models.Parse(text)
}

// trimMarkers removes a trailing playoff seed like " (1)" and the "*"/"+"
// division-winner and wild-card markers.
func trimMarkers(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ")") {
		if i := strings.LastIndex(s, " ("); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(strings.TrimRight(s, "*+ "))
}
