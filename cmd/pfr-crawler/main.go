package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridstat/pfr-crawler/pkg/config"
	pfrlog "github.com/gridstat/pfr-crawler/pkg/log"
	"github.com/gridstat/pfr-crawler/pkg/orchestrate"
	"github.com/gridstat/pfr-crawler/pkg/storage"
)

const version = "0.4.0"

// stateProfile names the unit database under state_dir.
const stateProfile = "pfr"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "merge":
		runMerge(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-categories":
		runListCategories(os.Args[2:])
	case "version":
		fmt.Printf("pfr-crawler %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `pfr-crawler - Pro-Football-Reference season table crawler

Usage:
  pfr-crawler <command> [options]

Commands:
  crawl            Start a fresh crawl
  resume           Resume an interrupted crawl
  merge            Merge stored category tables into team-season tables
  validate         Validate configuration file
  list-categories  List crawlable categories and merge plans
  version          Show version info

Run 'pfr-crawler <command> -h' for command-specific help.`)
}

// loadConfig loads the config file and applies defaults. Warnings are
// returned for the caller to report.
func loadConfig(path string) (*config.AppConfig, []string, error) {
	appCfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := appCfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return appCfg, warnings, nil
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type crawlOptions struct {
	configPath   string
	categories   []string
	logLevel     string
	resume       bool
	writeUnitLog bool
	showTeams    bool
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	categories := fs.String("categories", "", "Comma-separated categories or groups (overrides config)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error); overrides config")
	writeUnitLog := fs.Bool("write-unit-log", false, "Write a unit status log on completion")
	showTeams := fs.Bool("teams", false, "Print the seasons each team code appears in")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pfr-crawler %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pfr-crawler %s -config pfr.yaml\n", cmdName)
		fmt.Fprintf(os.Stderr, "  pfr-crawler %s -categories offense,standings\n", cmdName)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		fmt.Fprintf(os.Stderr, "Received signal: %v. Finishing in-flight pages...\n", sig)
		cancel()

		select {
		case sig = <-sigChan:
			fmt.Fprintf(os.Stderr, "Received second signal: %v. Forcing exit.\n", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			fmt.Fprintln(os.Stderr, "Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	opts := crawlOptions{
		configPath:   *configFile,
		categories:   splitList(*categories),
		logLevel:     *logLevel,
		resume:       isResume,
		writeUnitLog: *writeUnitLog,
		showTeams:    *showTeams,
	}
	os.Exit(doCrawl(ctx, opts, os.Stdout, os.Stderr))
}

// doCrawl runs a crawl and writes its outputs. Log output goes to stderr,
// the summary to stdout. Returns exit code (0 = success, 1 = error).
func doCrawl(ctx context.Context, opts crawlOptions, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	if opts.logLevel != "" {
		appCfg.Log.Level = opts.logLevel
	}
	if len(opts.categories) > 0 {
		appCfg.Categories = opts.categories
	}

	logger, logCloser, err := pfrlog.New(appCfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	for _, w := range warnings {
		logger.Warn(w)
	}
	logAppConfig(appCfg, logger)
	logEntry := logger.WithField("component", "crawl")

	cat, err := buildCatalog(appCfg)
	if err != nil {
		logger.Errorf("Catalog error: %v", err)
		return 1
	}
	categories, err := cat.Select(appCfg.Categories)
	if err != nil {
		logger.Errorf("Category selection error: %v", err)
		return 1
	}

	// ===========================================================
	// == Setup Global Context ==
	// ===========================================================
	var cancelCrawl context.CancelFunc
	if appCfg.GlobalTimeout > 0 {
		logger.Infof("Setting global crawl timeout: %v", appCfg.GlobalTimeout)
		ctx, cancelCrawl = context.WithTimeout(ctx, appCfg.GlobalTimeout)
	} else {
		ctx, cancelCrawl = context.WithCancel(ctx)
	}
	defer cancelCrawl()

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	// A fresh crawl only forgets the categories it re-crawls, so that merge
	// still finds the ones stored by earlier runs.
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, stateProfile, true, logEntry)
	if err != nil {
		logger.Errorf("Failed to initialize unit store: %v", err)
		return 1
	}
	defer store.Close()
	if !opts.resume {
		names := make([]string, len(categories))
		for i, c := range categories {
			names[i] = c.Name
		}
		if err := store.ClearCategories(names); err != nil {
			logger.Errorf("Failed to clear stored units: %v", err)
			return 1
		}
	}

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go store.RunGC(gcCtx, 10*time.Minute)

	opener, closeOpener, err := buildOpener(appCfg, logEntry)
	if err != nil {
		logger.Errorf("Failed to initialize page session: %v", err)
		return 1
	}
	defer func() {
		if err := closeOpener(); err != nil {
			logger.Warnf("Closing page session: %v", err)
		}
	}()

	orch, err := orchestrate.New(appCfg, categories, newRetrying(appCfg, opener, logEntry), store, logEntry)
	if err != nil {
		logger.Errorf("Failed to initialize orchestrator: %v", err)
		return 1
	}

	// ===========================================================
	// == Run ==
	// ===========================================================
	result, runErr := orch.Run(ctx)

	// ===========================================================
	// == Post-Crawl Actions ==
	// ===========================================================
	// Partial datasets are still written after an interrupted run.
	outCtx := context.WithoutCancel(ctx)
	outputErr := writeOutputs(outCtx, appCfg, result.Datasets, logEntry)
	reports, mergeErr := runMerges(outCtx, appCfg, cat, appCfg.Output.Merge, result.Datasets, logEntry)

	renderRunSummary(stdout, result, categories)
	renderMergeReports(stdout, reports)
	if opts.showTeams {
		renderTeams(stdout, orchestrate.Teams(datasetsOf(result.Datasets)...))
	}

	if opts.writeUnitLog {
		unitLogPath := filepath.Join(appCfg.Output.Dir, "units.tsv")
		if err := store.WriteUnitLog(unitLogPath); err != nil {
			logger.Errorf("Error writing unit log: %v", err)
		}
	}

	// --- Exit ---
	switch {
	case errors.Is(runErr, context.Canceled):
		logger.Warn("Crawl cancelled gracefully. Run 'resume' to continue.")
		return 0
	case errors.Is(runErr, context.DeadlineExceeded):
		logger.Error("Crawl timed out (global timeout).")
		return 1
	case outputErr != nil || mergeErr != nil:
		logger.Errorf("Crawl finished but outputs failed: %v", errors.Join(outputErr, mergeErr))
		return 1
	case result.Failed > 0:
		logger.Errorf("Crawl finished with %d failed units.", result.Failed)
		return 1
	}
	logger.Info("Crawl completed successfully.")
	return 0
}

// runMerge handles the merge subcommand
func runMerge(args []string) {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	plans := fs.String("plans", "", "Comma-separated merge plans (default: output.merge from config, else all)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pfr-crawler merge [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMerge(context.Background(), *configFile, splitList(*plans), os.Stdout, os.Stderr))
}

// doMerge merges the datasets recorded in the unit store by earlier crawls.
// Returns exit code (0 = success, 1 = error).
func doMerge(ctx context.Context, configPath string, planNames []string, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	logger, logCloser, err := pfrlog.New(appCfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	for _, w := range warnings {
		logger.Warn(w)
	}
	logEntry := logger.WithField("component", "merge")

	cat, err := buildCatalog(appCfg)
	if err != nil {
		logger.Errorf("Catalog error: %v", err)
		return 1
	}
	if len(planNames) == 0 {
		planNames = appCfg.Output.Merge
	}
	if len(planNames) == 0 {
		planNames = cat.PlanNames()
	}
	for _, name := range planNames {
		if _, ok := cat.Plan(name); !ok {
			fmt.Fprintf(stderr, "Error: unknown merge plan %q (available: %s)\n", name, strings.Join(cat.PlanNames(), ", "))
			return 1
		}
	}

	// Always resume: merging must never wipe the crawl state.
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, stateProfile, true, logEntry)
	if err != nil {
		logger.Errorf("Failed to open unit store: %v", err)
		return 1
	}
	defer store.Close()

	datasets, err := orchestrate.LoadDatasets(ctx, store, nil, logEntry)
	if err != nil {
		logger.Errorf("Failed to load stored units: %v", err)
		return 1
	}

	reports, err := runMerges(ctx, appCfg, cat, planNames, datasets, logEntry)
	renderMergeReports(stdout, reports)
	if err != nil {
		logger.Errorf("Merge failed: %v", err)
		return 1
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pfr-crawler validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	cat, err := buildCatalog(appCfg)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	categories, err := cat.Select(appCfg.Categories)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, name := range appCfg.Output.Merge {
		if _, ok := cat.Plan(name); !ok {
			fmt.Fprintf(stderr, "ERROR: output.merge names unknown plan %q\n", name)
			return 1
		}
	}

	years := appCfg.Years.Expand()
	units := orchestrate.PlanUnits(categories, years, appCfg.WeeksFor)
	fmt.Fprintf(stdout, "OK: %d categories, %d seasons (%d-%d), %d units, driver %s\n",
		len(categories), len(years), years[0], years[len(years)-1], len(units), appCfg.Session.Driver)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListCategories handles the list-categories subcommand
func runListCategories(args []string) {
	fs := flag.NewFlagSet("list-categories", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pfr-crawler list-categories [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListCategories(*configFile, os.Stdout, os.Stderr))
}

// doListCategories lists categories and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListCategories(configPath string, stdout, stderr io.Writer) int {
	appCfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cat, err := buildCatalog(appCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	renderCategories(stdout, cat)
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	years := appCfg.Years.Expand()
	log.Infof("Global Config: Seasons:%d (%d-%d), Categories:%v, Positions:%v",
		len(years), years[0], years[len(years)-1], appCfg.Categories, appCfg.Positions)
	log.Infof("Global Config: Workers:%d, StateDir:%s, OutputDir:%s, SQLite:'%s'",
		appCfg.Workers, appCfg.StateDir, appCfg.Output.Dir, appCfg.Output.SQLitePath)
	log.Infof("Global Config Retries: MaxAttempts:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxAttempts, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Timeouts: PageLoad:%v, Global:%v",
		appCfg.PageLoadTimeout, appCfg.GlobalTimeout)
	log.Infof("Global Config Session: Driver:%s, Headless:%t, MaxPages:%d, DelayPerHost:%v, RecordDir:'%s'",
		appCfg.Session.Driver, appCfg.EffectiveHeadless(), appCfg.Session.MaxPages, appCfg.Session.DelayPerHost, appCfg.Session.RecordDir)
	log.Infof("Global Config Details: FetchDetailPages:%t, Excel:%t, Merge:%v",
		appCfg.EffectiveFetchDetailPages(), appCfg.EffectiveExcel(), appCfg.Output.Merge)
}
