// Package output writes datasets to files and databases.
package output

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

const sheet = "Sheet1"

// ExcelWriter writes one workbook per dataset and season.
type ExcelWriter struct {
	dir string
	log *logrus.Entry
}

func NewExcelWriter(dir string, log *logrus.Entry) *ExcelWriter {
	return &ExcelWriter{dir: dir, log: log}
}

// WriteDataset writes {name}_{year}.xlsx for every season in ds, or a single
// {name}.xlsx when the dataset has no seasons. It returns the written paths.
func (w *ExcelWriter) WriteDataset(ds *models.Dataset) ([]string, error) {
	years := ds.Years()
	if len(years) == 0 || (len(years) == 1 && years[0] == 0) {
		path := filepath.Join(w.dir, utils.SanitizeFilename(ds.Name)+".xlsx")
		if err := w.write(path, ds.Columns, ds.Records()); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	paths := make([]string, 0, len(years))
	for _, year := range years {
		path := filepath.Join(w.dir, utils.SanitizeFilename(ds.Name)+"_"+strconv.Itoa(year)+".xlsx")
		if err := w.write(path, ds.Columns, ds.ForYear(year).Records()); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteMerged writes the output of a merge plan to merged_{plan}.xlsx.
func (w *ExcelWriter) WriteMerged(plan string, ds *models.Dataset) (string, error) {
	path := filepath.Join(w.dir, "merged_"+utils.SanitizeFilename(plan)+".xlsx")
	return path, w.write(path, ds.Columns, ds.Records())
}

func (w *ExcelWriter) write(path string, columns []string, records iter.Seq[models.Record]) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating output directory: %w", utils.ErrFilesystem, err)
	}

	f := excelize.NewFile()
	defer f.Close()
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("%w: opening stream writer for '%s': %w", utils.ErrFilesystem, path, err)
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("%w: writing header of '%s': %w", utils.ErrFilesystem, path, err)
	}

	n := 0
	for r := range records {
		row := make([]any, len(r.Values))
		for i, v := range r.Values {
			row[i] = v.Interface() // nil leaves the cell empty
		}
		cell, _ := excelize.CoordinatesToCellName(1, n+2)
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("%w: writing row %d of '%s': %w", utils.ErrFilesystem, n+1, path, err)
		}
		n++
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing '%s': %w", utils.ErrFilesystem, path, err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%w: saving '%s': %w", utils.ErrFilesystem, path, err)
	}
	w.log.WithField("file", path).Debugf("Wrote %d rows", n)
	return nil
}
