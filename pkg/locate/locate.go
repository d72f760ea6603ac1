// Package locate provides the DOM lookups used by every extractor.
//
// Single-element finders return (selection, false) when nothing matches.
// Callers decide whether a miss is expected (an optional field) or a
// structural anomaly (Require).
package locate

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// commentMarkers wrap secondary tables on sports-reference pages; the tables
// are only reachable once the markers are removed.
var commentMarkers = strings.NewReplacer("<!--", "", "-->", "")

// Parse builds a document from rendered HTML, uncommenting hidden tables.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(commentMarkers.Replace(html)))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

func first(sel *goquery.Selection, tag, id string) (*goquery.Selection, bool) {
	if sel == nil {
		return nil, false
	}
	query := tag
	if id != "" {
		query = fmt.Sprintf(`%s[id="%s"]`, tag, id)
	}
	found := sel.Find(query).First()
	return found, found.Length() > 0
}

// FindDiv returns the first div under sel, restricted to id when non-empty.
func FindDiv(sel *goquery.Selection, id string) (*goquery.Selection, bool) {
	return first(sel, "div", id)
}

// FindSpan returns the first span under sel, restricted to id when non-empty.
func FindSpan(sel *goquery.Selection, id string) (*goquery.Selection, bool) {
	return first(sel, "span", id)
}

// FindTable returns the first table under sel, restricted to id when non-empty.
func FindTable(sel *goquery.Selection, id string) (*goquery.Selection, bool) {
	return first(sel, "table", id)
}

// FindByClass returns the first tag element carrying class.
func FindByClass(sel *goquery.Selection, tag, class string) (*goquery.Selection, bool) {
	if sel == nil {
		return nil, false
	}
	found := sel.Find(tag + "." + class).First()
	return found, found.Length() > 0
}

// FindRowGroup returns the table body.
func FindRowGroup(table *goquery.Selection) (*goquery.Selection, bool) {
	return first(table, "tbody", "")
}

// FindRows returns every row under sel. An empty selection is a valid result.
func FindRows(sel *goquery.Selection) *goquery.Selection {
	return sel.Find("tr")
}

// FindHeaderCell returns the first th of a row.
func FindHeaderCell(row *goquery.Selection) (*goquery.Selection, bool) {
	return first(row, "th", "")
}

// FindCells returns the td cells of a row.
func FindCells(row *goquery.Selection) *goquery.Selection {
	return row.Find("td")
}

// FindParagraphs returns every p under sel.
func FindParagraphs(sel *goquery.Selection) *goquery.Selection {
	return sel.Find("p")
}

// FindHref returns the first hyperlink target at or under sel.
func FindHref(sel *goquery.Selection) (string, bool) {
	if sel == nil || sel.Length() == 0 {
		return "", false
	}
	if href, ok := sel.Attr("href"); ok {
		return href, true
	}
	return sel.Find("[href]").First().Attr("href")
}

// Require turns a miss on a mandatory element into a structural mismatch.
func Require(sel *goquery.Selection, ok bool, what string) (*goquery.Selection, error) {
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", utils.ErrStructuralMismatch, what)
	}
	return sel, nil
}

// Text returns the visible text of sel with non-breaking spaces normalised.
func Text(sel *goquery.Selection) string {
	return strings.TrimSpace(strings.ReplaceAll(sel.Text(), "\u00a0", " "))
}

// RawTable reads a table into header labels and body rows. The header is the
// last row of thead (sports-reference tables carry an over-header row above
// it). Body rows come from tbody, or from all non-thead rows when the table
// has no tbody.
func RawTable(table *goquery.Selection) models.RawTableUnit {
	var unit models.RawTableUnit

	headRow := table.Find("thead tr").Last()
	headRow.Find("th").Each(func(_ int, th *goquery.Selection) {
		unit.Header = append(unit.Header, Text(th))
	})

	rows := table.Find("tbody tr")
	if _, ok := FindRowGroup(table); !ok {
		rows = table.Find("tr").Not("thead tr")
	}
	rows.Each(func(_ int, tr *goquery.Selection) {
		unit.Rows = append(unit.Rows, rawRow(tr))
	})
	return unit
}

func rawRow(tr *goquery.Selection) models.RawRow {
	row := models.RawRow{Class: tr.AttrOr("class", "")}
	if th, ok := FindHeaderCell(tr); ok {
		row.HasLabel = true
		row.Label = cell(th)
	}
	FindCells(tr).Each(func(_ int, td *goquery.Selection) {
		row.Cells = append(row.Cells, cell(td))
	})
	return row
}

func cell(sel *goquery.Selection) models.Cell {
	href, _ := FindHref(sel)
	return models.Cell{Text: Text(sel), Href: href}
}
