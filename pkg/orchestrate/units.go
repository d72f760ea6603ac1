package orchestrate

import (
	"strconv"
	"strings"

	"github.com/gridstat/pfr-crawler/pkg/catalog"
)

// Unit is one page fetch: a category in one season, and one week for
// weekly categories. Year-less categories have Year 0.
type Unit struct {
	Category string
	Year     int
	Week     int // 0 unless the category is weekly
}

// Key is the unit's state store key: "category/year" or "category/year/week".
func (u Unit) Key() string {
	k := u.Category + "/" + strconv.Itoa(u.Year)
	if u.Week > 0 {
		k += "/" + strconv.Itoa(u.Week)
	}
	return k
}

// categoryOfKey returns the category part of a unit key.
func categoryOfKey(key string) string {
	cat, _, _ := strings.Cut(key, "/")
	return cat
}

// PlanUnits expands categories over years, and over weeks for weekly
// categories, in category order. Year-less categories get a single unit.
func PlanUnits(categories []catalog.Category, years []int, weeksFor func(year int) int) []Unit {
	var units []Unit
	for _, cat := range categories {
		if cat.YearLess {
			units = append(units, Unit{Category: cat.Name})
			continue
		}
		for _, year := range years {
			if !cat.Weekly {
				units = append(units, Unit{Category: cat.Name, Year: year})
				continue
			}
			for week := 1; week <= weeksFor(year); week++ {
				units = append(units, Unit{Category: cat.Name, Year: year, Week: week})
			}
		}
	}
	return units
}
