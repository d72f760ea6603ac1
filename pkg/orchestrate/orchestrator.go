package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/gridstat/pfr-crawler/pkg/assemble"
	"github.com/gridstat/pfr-crawler/pkg/catalog"
	"github.com/gridstat/pfr-crawler/pkg/config"
	"github.com/gridstat/pfr-crawler/pkg/fetch"
	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/storage"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// UnitOutcome contains the result of one unit
type UnitOutcome struct {
	Unit           Unit
	Status         models.UnitStatus // Unset when the unit was never started
	ErrorType      string
	Err            error
	Resumed        bool // Records replayed from the state store
	Attempts       int
	Degraded       bool
	Records        int // Records added to the dataset
	DetailFailures int
	Stats          assemble.Stats
	Duration       time.Duration
}

// RunResult is everything one run produced. Datasets are partial when units
// failed or the run was interrupted.
type RunResult struct {
	RunID    string
	Datasets map[string]*models.Dataset
	Units    []UnitOutcome
	Stats    assemble.Stats // Row totals over all fetched units

	Succeeded      int
	Resumed        int
	Failed         int
	Interrupted    int // Started but cancelled, left pending in the store
	NotStarted     int
	DetailFetches  int
	DetailFailures int
	Duration       time.Duration
}

type category struct {
	catalog.Category
	assembler    *assemble.Assembler
	detailFields []string
}

// Orchestrator crawls the units of a set of categories with a bounded pool
// of workers and accumulates their records per category.
type Orchestrator struct {
	appCfg     *config.AppConfig
	log        *logrus.Entry
	retrying   *fetch.Retrying
	store      storage.UnitStore // nil disables unit state
	categories []*category
	byName     map[string]*category
}

// New creates an orchestrator. A nil store runs without unit state: nothing
// is skipped and nothing is recorded.
func New(appCfg *config.AppConfig, categories []catalog.Category, retrying *fetch.Retrying, store storage.UnitStore, log *logrus.Entry) (*Orchestrator, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories selected", utils.ErrConfigValidation)
	}
	o := &Orchestrator{
		appCfg:   appCfg,
		log:      log,
		retrying: retrying,
		store:    store,
		byName:   make(map[string]*category, len(categories)),
	}
	for _, cat := range categories {
		asm, err := assemble.New(cat.Schema, log.WithField("category", cat.Name))
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}
		c := &category{Category: cat, assembler: asm, detailFields: cat.Schema.DetailColumns()}
		o.categories = append(o.categories, c)
		o.byName[cat.Name] = c
	}
	return o, nil
}

// Units returns the planned units of the run.
func (o *Orchestrator) Units() []Unit {
	cats := make([]catalog.Category, 0, len(o.categories))
	for _, c := range o.categories {
		cats = append(cats, c.Category)
	}
	return PlanUnits(cats, o.appCfg.Years.Expand(), o.appCfg.WeeksFor)
}

// Run crawls every planned unit and waits for completion. Units already
// finished in the state store are replayed instead of fetched. Once ctx is
// done no new units are started; the partial result is returned together
// with the context error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	log := o.log.WithField("run_id", runID)

	units := o.Units()
	log.Infof("Starting run of %d units across %d categories with %d workers", len(units), len(o.categories), o.appCfg.Workers)

	acc := newAccumulator(log)
	var details *detailCache
	if o.appCfg.EffectiveFetchDetailPages() {
		details = newDetailCache(o.retrying, o.appCfg.PageLoadTimeout, log)
	}
	outcomes := make([]UnitOutcome, len(units))
	for i, u := range units {
		outcomes[i].Unit = u
	}

	var g errgroup.Group
	g.SetLimit(max(o.appCfg.Workers, 1))
	for i, u := range units {
		if ctx.Err() != nil {
			log.Warnf("Run cancelled, not starting remaining %d units", len(units)-i)
			break
		}
		if out, ok := o.resume(u, acc, log); ok {
			outcomes[i] = out
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.runUnit(ctx, u, acc, details, log)
			return nil
		})
	}
	_ = g.Wait()

	result := &RunResult{
		RunID:    runID,
		Datasets: acc.snapshot(),
		Units:    outcomes,
	}
	for _, out := range outcomes {
		result.Stats.Add(out.Stats)
		switch {
		case out.Status == models.UnitStatusUnset:
			result.NotStarted++
		case out.Resumed:
			result.Resumed++
		case out.Status == models.UnitStatusSuccess:
			result.Succeeded++
		case out.Status == models.UnitStatusPending:
			result.Interrupted++
		default:
			result.Failed++
		}
		result.DetailFailures += out.DetailFailures
	}
	if details != nil {
		result.DetailFetches = int(details.fetched.Load())
	}
	result.Duration = time.Since(startTime)
	o.logSummary(log, result)

	return result, ctx.Err()
}

// resume replays a unit that a previous run finished.
func (o *Orchestrator) resume(u Unit, acc *accumulator, log *logrus.Entry) (UnitOutcome, bool) {
	if o.store == nil {
		return UnitOutcome{}, false
	}
	status, entry, err := o.store.CheckUnit(u.Key())
	if err != nil || !status.Done() || entry == nil {
		return UnitOutcome{}, false
	}
	dups, err := acc.add(u.Category, entry.Columns, entry.Records)
	if err != nil {
		log.WithField("unit", u.Key()).Warnf("Stored unit cannot be replayed, fetching again: %v", err)
		return UnitOutcome{}, false
	}
	log.WithField("unit", u.Key()).Debugf("Replayed %d stored records", len(entry.Records)-dups)
	return UnitOutcome{
		Unit:     u,
		Status:   models.UnitStatusSuccess,
		Resumed:  true,
		Attempts: entry.Attempts,
		Degraded: entry.Degraded,
		Records:  len(entry.Records) - dups,
	}, true
}

// runUnit fetches, assembles and accumulates one unit.
func (o *Orchestrator) runUnit(ctx context.Context, u Unit, acc *accumulator, details *detailCache, log *logrus.Entry) UnitOutcome {
	startTime := time.Now()
	out := UnitOutcome{Unit: u}
	unitLog := log.WithFields(logrus.Fields{"unit": u.Key(), "category": u.Category, "year": u.Year})
	cat := o.byName[u.Category]

	if ctx.Err() != nil {
		return out
	}
	if o.store != nil {
		if _, err := o.store.MarkUnitPending(u.Key()); err != nil {
			unitLog.Warnf("Failed to mark unit pending: %v", err)
		}
	}

	target := fetch.Target{URL: cat.PageURL(u.Year, u.Week), LoadTimeout: o.appCfg.PageLoadTimeout}
	tables, fo, err := fetch.Extract(ctx, o.retrying, target, cat.Extract)
	out.Attempts = fo.Attempts
	out.Degraded = fo.Degraded
	if err != nil {
		return o.fail(unitLog, out, err, startTime)
	}

	columns, records, stats, err := o.assemble(cat, tables, u)
	if err != nil {
		return o.fail(unitLog, out, err, startTime)
	}
	if details != nil && cat.Detail != nil {
		out.DetailFailures = details.expand(ctx, cat.Detail, cat.detailFields, columns, records)
	}

	dups, err := acc.add(u.Category, columns, records)
	if err != nil {
		return o.fail(unitLog, out, err, startTime)
	}
	stats.Duplicates += dups
	out.Stats = stats
	out.Records = len(records) - dups
	out.Status = models.UnitStatusSuccess
	out.Duration = time.Since(startTime)

	if o.store != nil {
		now := time.Now()
		entry := &models.UnitEntry{
			Status:      models.UnitStatusSuccess,
			Attempts:    fo.Attempts,
			Degraded:    fo.Degraded,
			ContentHash: fo.ContentHash,
			ProcessedAt: now,
			LastAttempt: now,
			Columns:     columns,
			Records:     records,
		}
		if err := o.store.UpdateUnit(u.Key(), entry); err != nil {
			unitLog.Errorf("Failed to record unit success: %v", err)
		}
	}

	unitLog.WithFields(logrus.Fields{
		"records":    out.Records,
		"attempts":   out.Attempts,
		"skipped":    stats.Skipped,
		"mismatches": stats.Mismatches,
		"inserted":   stats.Inserted,
	}).Info("Unit complete")
	return out
}

// assemble turns every table of a unit into records with one shared header.
func (o *Orchestrator) assemble(cat *category, tables []models.RawTableUnit, u Unit) ([]string, []models.Record, assemble.Stats, error) {
	var (
		columns []string
		records []models.Record
		stats   assemble.Stats
	)
	actx := cat.Context(u.Year, u.Week)
	for i, t := range tables {
		res, err := cat.assembler.Assemble(t, actx)
		if err != nil {
			return nil, nil, stats, err
		}
		if columns == nil {
			columns = res.Columns
		} else if !slices.Equal(columns, res.Columns) {
			return nil, nil, stats, fmt.Errorf("%w: table %s header differs from table %s",
				utils.ErrStructuralMismatch, cat.Tables[i], cat.Tables[0])
		}
		records = append(records, res.Records...)
		stats.Add(res.Stats)
	}
	return columns, records, stats, nil
}

// fail records a failed unit. A unit stopped by cancellation stays pending
// so a resumed run fetches it again.
func (o *Orchestrator) fail(unitLog *logrus.Entry, out UnitOutcome, err error, startTime time.Time) UnitOutcome {
	out.Err = err
	out.ErrorType = utils.CategorizeError(err)
	out.Duration = time.Since(startTime)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		out.Status = models.UnitStatusPending
		unitLog.Warnf("Unit interrupted: %v", err)
		return out
	}

	out.Status = models.UnitStatusFailure
	unitLog.WithFields(logrus.Fields{"error_type": out.ErrorType, "attempts": out.Attempts}).Errorf("Unit failed: %v", err)
	if o.store != nil {
		entry := &models.UnitEntry{
			Status:      models.UnitStatusFailure,
			ErrorType:   out.ErrorType,
			Attempts:    out.Attempts,
			LastAttempt: time.Now(),
		}
		if uerr := o.store.UpdateUnit(out.Unit.Key(), entry); uerr != nil {
			unitLog.Errorf("Failed to record unit failure: %v", uerr)
		}
	}
	return out
}

// logSummary logs a summary of the run
func (o *Orchestrator) logSummary(log *logrus.Entry, r *RunResult) {
	log.Info("============================================")
	log.Infof("Run completed in %v", r.Duration)
	log.Info("Category Results:")

	names := make([]string, 0, len(r.Datasets))
	for _, c := range o.categories {
		if _, ok := r.Datasets[c.Name]; ok {
			names = append(names, c.Name)
		}
	}
	for _, name := range names {
		log.Infof("  %s: %d records", name, r.Datasets[name].Len())
	}
	for _, out := range r.Units {
		if out.Status == models.UnitStatusFailure {
			log.Infof("  FAILED %s (%s): %v", out.Unit.Key(), out.ErrorType, out.Err)
		}
	}

	log.Info("--------------------------------------------")
	log.Infof("Units: %d total (%d fetched, %d resumed, %d failed, %d interrupted, %d not started)",
		len(r.Units), r.Succeeded, r.Resumed, r.Failed, r.Interrupted, r.NotStarted)
	log.Infof("Rows: %d accepted, %d below threshold, %d repaired, %d mismatched, %d unresolved ids, %d duplicates",
		r.Stats.Accepted, r.Stats.Skipped, r.Stats.Inserted, r.Stats.Mismatches, r.Stats.Unresolved, r.Stats.Duplicates)
	if r.DetailFetches > 0 {
		log.Infof("Detail pages: %d fetched, %d rows without details", r.DetailFetches, r.DetailFailures)
	}
	log.Info("============================================")
}
