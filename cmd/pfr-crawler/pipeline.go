package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/catalog"
	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/fetch"
	"github.com/gridstat/pfr-crawler/pkg/merge"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/output"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// buildCatalog creates the category catalog with the configured URLs,
// positions and insert rule overrides.
func buildCatalog(appCfg *config.AppConfig) (*catalog.Catalog, error) {
	rules := make(map[string][]assemble.InsertRule, len(appCfg.InsertRules))
	for name, rs := range appCfg.InsertRules {
		for _, r := range rs {
			rules[name] = append(rules[name], assemble.InsertRule{WhenCells: r.WhenCells, At: r.At, Default: r.Default})
		}
	}
	return catalog.New(catalog.Options{
		BaseURL:        appCfg.BaseURL,
		FantasyBaseURL: appCfg.FantasyBaseURL,
		Positions:      appCfg.Positions,
		InsertRules:    rules,
	})
}

// buildOpener creates the page session opener of the configured driver. The
// returned function releases it.
func buildOpener(appCfg *config.AppConfig, log *logrus.Entry) (fetch.Opener, func() error, error) {
	var opener fetch.Opener
	closeFn := func() error { return nil }

	switch appCfg.Session.Driver {
	case config.DriverRod:
		rod, err := fetch.NewRodOpener(appCfg.Session, appCfg.EffectiveHeadless(), log)
		if err != nil {
			return nil, nil, err
		}
		opener, closeFn = rod, rod.Close
	case config.DriverHTTP:
		opener = fetch.NewHTTPOpener(appCfg.Session, log)
	case config.DriverDir:
		opener = &fetch.DirOpener{Dir: appCfg.Session.Dir}
	default:
		return nil, nil, fmt.Errorf("%w: unknown session driver %q", utils.ErrConfigValidation, appCfg.Session.Driver)
	}

	if appCfg.Session.RecordDir != "" {
		log.Infof("Recording loaded pages to %s", appCfg.Session.RecordDir)
		opener = &fetch.RecordingOpener{Next: opener, Dir: appCfg.Session.RecordDir, Log: log}
	}
	return opener, closeFn, nil
}

func newRetrying(appCfg *config.AppConfig, opener fetch.Opener, log *logrus.Entry) *fetch.Retrying {
	return fetch.NewRetrying(opener, fetch.Policy{
		MaxAttempts:  appCfg.MaxAttempts,
		InitialDelay: appCfg.InitialRetryDelay,
		MaxDelay:     appCfg.MaxRetryDelay,
	}, log)
}

// datasetsOf returns the datasets in name order.
func datasetsOf(datasets map[string]*models.Dataset) []*models.Dataset {
	out := make([]*models.Dataset, 0, len(datasets))
	for _, name := range slices.Sorted(maps.Keys(datasets)) {
		out = append(out, datasets[name])
	}
	return out
}

// writeOutputs writes every dataset to the configured sinks. A failing sink
// does not stop the others.
func writeOutputs(ctx context.Context, appCfg *config.AppConfig, datasets map[string]*models.Dataset, log *logrus.Entry) error {
	var errs []error

	if appCfg.EffectiveExcel() {
		w := output.NewExcelWriter(appCfg.Output.Dir, log)
		files := 0
		for _, ds := range datasetsOf(datasets) {
			paths, err := w.WriteDataset(ds)
			files += len(paths)
			if err != nil {
				log.Errorf("Excel output for %s failed: %v", ds.Name, err)
				errs = append(errs, err)
			}
		}
		log.Infof("Wrote %d xlsx files to %s", files, appCfg.Output.Dir)
	}

	if appCfg.Output.SQLitePath != "" {
		loader, err := output.OpenSQLite(appCfg.Output.SQLitePath, log)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		defer loader.Close()
		for _, ds := range datasetsOf(datasets) {
			n, err := loader.Load(ctx, ds)
			if err != nil {
				log.Errorf("SQLite load of %s failed: %v", ds.Name, err)
				errs = append(errs, err)
				continue
			}
			log.Infof("Loaded %d rows into %s:%s", n, appCfg.Output.SQLitePath, ds.Name)
		}
	}
	return errors.Join(errs...)
}

// runMerges runs the named merge plans and writes their outputs. Plans whose
// categories were not crawled fail individually.
func runMerges(ctx context.Context, appCfg *config.AppConfig, cat *catalog.Catalog, planNames []string, datasets map[string]*models.Dataset, log *logrus.Entry) ([]merge.Report, error) {
	var (
		reports []merge.Report
		errs    []error
		merged  = make(map[string]*models.Dataset)
	)
	for _, name := range planNames {
		plan, ok := cat.Plan(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: unknown merge plan %q", utils.ErrConfigValidation, name))
			continue
		}
		ds, report, err := merge.Merge(plan, datasets)
		if err != nil {
			log.Errorf("Merge plan %s failed: %v", name, err)
			errs = append(errs, err)
			continue
		}
		for category, n := range report.Duplicates {
			log.WithFields(logrus.Fields{"plan": name, "category": category}).
				Warnf("%v: %d rows share (year, id) with an earlier row, dropped", utils.ErrDuplicateKey, n)
		}
		reports = append(reports, report)
		merged[name] = ds
	}

	if appCfg.EffectiveExcel() {
		w := output.NewExcelWriter(appCfg.Output.Dir, log)
		for _, name := range slices.Sorted(maps.Keys(merged)) {
			path, err := w.WriteMerged(name, merged[name])
			if err != nil {
				errs = append(errs, err)
				continue
			}
			log.Infof("Wrote merged table %s", path)
		}
	}
	if appCfg.Output.SQLitePath != "" && len(merged) > 0 {
		loader, err := output.OpenSQLite(appCfg.Output.SQLitePath, log)
		if err != nil {
			return reports, errors.Join(append(errs, err)...)
		}
		defer loader.Close()
		for _, name := range slices.Sorted(maps.Keys(merged)) {
			ds := merged[name]
			ds.Name = "merged_" + name
			if _, err := loader.Load(ctx, ds); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return reports, errors.Join(errs...)
}
