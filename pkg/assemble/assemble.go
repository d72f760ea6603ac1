// Package assemble turns raw table rows into schema-aligned records.
//
// Every record has exactly one value per output column. Rows below the
// schema's cell threshold are separators and skipped silently; rows of an
// unknown width are counted as structural mismatches and skipped, never
// guessed. A known width variant can be repaired with an InsertRule.
package assemble

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/entity"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Context carries the per-unit values columns may draw from.
type Context struct {
	Year   int
	Sub    string
	Params map[string]string
}

// Stats counts what happened to the rows of one pass.
type Stats struct {
	Rows       int // body rows seen
	Accepted   int
	Skipped    int // below the cell threshold
	Inserted   int // repaired by an insert rule
	Mismatches int // unknown width
	Unresolved int // key identifier missing
	Duplicates int // key already produced in this pass
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Rows += o.Rows
	s.Accepted += o.Accepted
	s.Skipped += o.Skipped
	s.Inserted += o.Inserted
	s.Mismatches += o.Mismatches
	s.Unresolved += o.Unresolved
	s.Duplicates += o.Duplicates
}

// Result is the output of one Assemble call.
type Result struct {
	Columns []string
	Records []models.Record
	Stats   Stats
}

// Assembler applies one validated schema.
type Assembler struct {
	schema Schema
	log    *logrus.Entry
}

// New validates schema and returns an assembler for it.
func New(schema Schema, log *logrus.Entry) (*Assembler, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{schema: schema, log: log.WithField("schema", schema.Name)}, nil
}

func (a *Assembler) Schema() *Schema { return &a.schema }

// Columns returns the output header for a page header. Only HeaderTail
// schemas depend on the page header.
func (a *Assembler) Columns(header []string) ([]string, error) {
	s := &a.schema
	cols := make([]string, 0, len(s.Columns)+len(s.Derived))
	for _, c := range s.Columns {
		cols = append(cols, c.Name)
	}
	if s.HeaderTail {
		if len(header) < s.TailHeaderOffset {
			return nil, fmt.Errorf("%w: %s header has %d labels, tail starts at %d",
				utils.ErrStructuralMismatch, s.Name, len(header), s.TailHeaderOffset)
		}
		for _, label := range header[s.TailHeaderOffset:] {
			name := utils.SanitizeIdentifier(label)
			for n := 2; slices.Contains(cols, name); n++ {
				name = utils.SanitizeIdentifier(label) + "_" + strconv.Itoa(n)
			}
			cols = append(cols, name)
		}
	}
	for _, d := range s.Derived {
		cols = append(cols, d.Name)
	}
	return cols, nil
}

// Assemble maps every body row of unit to a record.
func (a *Assembler) Assemble(unit models.RawTableUnit, c Context) (Result, error) {
	s := &a.schema
	columns, err := a.Columns(unit.Header)
	if err != nil {
		return Result{}, err
	}
	tail := 0
	if s.HeaderTail {
		tail = len(unit.Header) - s.TailHeaderOffset
	}
	want := s.fixedCells() + tail
	colIndex := make(map[string]int, len(columns))
	for i, name := range columns {
		colIndex[name] = i
	}

	res := Result{Columns: columns}
	seen := make(map[models.Key]bool)
	rowLog := a.log.WithField("year", c.Year)

	for i, row := range unit.Rows {
		res.Stats.Rows++
		cells := row.Cells
		if len(cells) < s.MinCells {
			res.Stats.Skipped++
			continue
		}
		if len(cells) != want {
			rule, ok := s.insertFor(len(cells))
			if !ok || len(cells)+1 != want {
				res.Stats.Mismatches++
				rowLog.WithFields(logrus.Fields{"row": i + 1, "cells": len(cells), "want": want, "label": row.Label.Text}).
					Warn("Row width does not match schema, skipping")
				continue
			}
			cells = slices.Insert(slices.Clone(cells), rule.At, models.Cell{Text: rule.Default})
			res.Stats.Inserted++
		}

		values := a.rowValues(row, cells, i+1, c, len(columns))
		a.derive(values, colIndex)

		id := values[colIndex[s.KeyID]]
		if id.IsAbsent() && s.KeyFallback != "" {
			id = values[colIndex[s.KeyFallback]]
		}
		if id.IsAbsent() {
			res.Stats.Unresolved++
			rowLog.WithFields(logrus.Fields{"row": i + 1, "label": row.Label.Text}).
				Debugf("%v: %s", utils.ErrIdentifierUnresolvable, s.KeyID)
			continue
		}
		key := models.Key{Year: c.Year, ID: id.String(), Sub: c.Sub}
		if s.KeySub != "" {
			if sub := values[colIndex[s.KeySub]].String(); sub != "" {
				if key.Sub != "" {
					key.Sub += "/"
				}
				key.Sub += sub
			}
		}
		if seen[key] {
			res.Stats.Duplicates++
			rowLog.WithField("key", key.String()).Warnf("%v within one table, keeping the first row", utils.ErrDuplicateKey)
			continue
		}
		seen[key] = true
		res.Records = append(res.Records, models.Record{Key: key, Values: values})
		res.Stats.Accepted++
	}
	return res, nil
}

func (a *Assembler) rowValues(row models.RawRow, cells []models.Cell, index int, c Context, width int) []models.Value {
	values := make([]models.Value, width)
	next := 0
	for ci, col := range a.schema.Columns {
		var v models.Value
		switch col.Source {
		case Year:
			v = models.Number(float64(c.Year))
		case SubUnit:
			v = apply(col.Transform, col.Sep, c.Sub)
		case Param:
			v = apply(col.Transform, col.Sep, c.Params[col.Param])
		case RowIndex:
			v = models.Number(float64(index))
		case LabelText:
			if row.HasLabel {
				v = apply(col.Transform, col.Sep, row.Label.Text)
			}
		case LabelID:
			v = idValue(col.Kind, row.Label.Href)
		case LabelFlag:
			v = models.Bool(row.HasLabel && strings.HasSuffix(row.Label.Text, col.Marker))
		case CellText, CellID:
			if next < len(cells) {
				cell := cells[next]
				if col.Source == CellText {
					v = apply(col.Transform, col.Sep, cell.Text)
				} else {
					v = idValue(col.Kind, cell.Href)
				}
			}
			if !col.Peek {
				next++
			}
		case Const:
			v = apply(col.Transform, col.Sep, col.Value)
		case Detail:
			// filled later
		}
		values[ci] = v
	}
	if a.schema.HeaderTail {
		for ti, cell := range cells[min(next, len(cells)):] {
			pos := len(a.schema.Columns) + ti
			if pos >= width-len(a.schema.Derived) {
				break
			}
			values[pos] = models.Parse(cell.Text)
		}
	}
	return values
}

func (a *Assembler) derive(values []models.Value, colIndex map[string]int) {
	for _, d := range a.schema.Derived {
		values[colIndex[d.Name]] = Ratio(lookup(values, colIndex, d.Numerator), lookup(values, colIndex, d.Denominator), d.Round)
	}
}

func lookup(values []models.Value, colIndex map[string]int, name string) models.Value {
	i, ok := colIndex[name]
	if !ok {
		return models.Absent()
	}
	return values[i]
}

// Ratio divides two values. Absent operands or a zero denominator give
// Absent; round > 0 rounds to that many decimal places.
func Ratio(num, den models.Value, round int) models.Value {
	n, ok := num.Float()
	if !ok {
		return models.Absent()
	}
	d, ok := den.Float()
	if !ok || d == 0 {
		return models.Absent()
	}
	r := n / d
	if round > 0 {
		p := math.Pow(10, float64(round))
		r = math.Round(r*p) / p
	}
	return models.Number(r)
}

func idValue(k entity.Kind, href string) models.Value {
	if id, ok := entity.Extract(k, href); ok {
		return models.Text(id)
	}
	return models.Absent()
}
