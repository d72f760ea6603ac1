package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Session drivers
const (
	DriverRod  = "rod"  // headless Chrome
	DriverHTTP = "http" // plain GET, for static pages or a rendering proxy
	DriverDir  = "dir"  // offline replay of saved pages
)

// YearRange selects seasons either as an inclusive range or an explicit list
type YearRange struct {
	From int   `yaml:"from,omitempty"`
	To   int   `yaml:"to,omitempty"`
	List []int `yaml:"list,omitempty"` // Takes precedence over From/To
}

// Expand returns the selected seasons in ascending order, without repeats
func (y YearRange) Expand() []int {
	if len(y.List) > 0 {
		return slices.Compact(slices.Sorted(slices.Values(y.List)))
	}
	var years []int
	for yr := y.From; yr <= y.To; yr++ {
		years = append(years, yr)
	}
	return years
}

// InsertRule mirrors assemble.InsertRule for YAML overrides
type InsertRule struct {
	WhenCells int    `yaml:"when_cells"`
	At        int    `yaml:"at"`
	Default   string `yaml:"default"`
}

// SessionConfig selects and tunes the page session implementation
type SessionConfig struct {
	Driver       string           `yaml:"driver,omitempty"`
	ChromePath   string           `yaml:"chrome_path,omitempty"`   // Empty = let rod download/locate a browser
	Headless     *bool            `yaml:"headless,omitempty"`      // nil = true
	MaxPages     int              `yaml:"max_pages,omitempty"`     // Cap on concurrently open browser pages
	Dir          string           `yaml:"dir,omitempty"`           // Replay directory for the dir driver
	RecordDir    string           `yaml:"record_dir,omitempty"`    // Save every loaded page here for later replay
	UserAgent    string           `yaml:"user_agent,omitempty"`    // Empty = browser/client default
	DelayPerHost time.Duration    `yaml:"delay_per_host,omitempty"` // Politeness delay for the http driver
	HTTP         HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// OutputConfig controls the persistence collaborators
type OutputConfig struct {
	Dir        string   `yaml:"dir,omitempty"`
	Excel      *bool    `yaml:"excel,omitempty"`       // nil = true
	SQLitePath string   `yaml:"sqlite_path,omitempty"` // Empty = no SQLite load
	Merge      []string `yaml:"merge,omitempty"`       // Merge plans to run after a crawl
}

// LogConfig controls log level and optional rotating file output
type LogConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	BaseURL           string                  `yaml:"base_url"`
	FantasyBaseURL    string                  `yaml:"fantasy_base_url,omitempty"`
	Years             YearRange               `yaml:"years"`
	Categories        []string                `yaml:"categories,omitempty"` // Empty = every catalog category
	Positions         []string                `yaml:"positions,omitempty"`
	Weeks             map[int]int             `yaml:"weeks,omitempty"` // Year -> number of regular-season weeks
	PageLoadTimeout   time.Duration           `yaml:"page_load_timeout,omitempty"`
	MaxAttempts       int                     `yaml:"max_attempts,omitempty"`
	InitialRetryDelay time.Duration           `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration           `yaml:"max_retry_delay,omitempty"`
	Workers           int                     `yaml:"workers,omitempty"`
	GlobalTimeout     time.Duration           `yaml:"global_timeout,omitempty"` // 0 = no deadline
	FetchDetailPages  *bool                   `yaml:"fetch_detail_pages,omitempty"`
	InsertRules       map[string][]InsertRule `yaml:"insert_rules,omitempty"` // Category -> rules replacing the catalog's
	Session           SessionConfig           `yaml:"session,omitempty"`
	Output            OutputConfig            `yaml:"output,omitempty"`
	StateDir          string                  `yaml:"state_dir,omitempty"`
	Log               LogConfig               `yaml:"log,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// Load reads a YAML file into an AppConfig. Defaults are applied by Validate.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file '%s': %w", utils.ErrFilesystem, path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config YAML '%s': %w", utils.ErrParsing, path, err)
	}
	return &cfg, nil
}

// EffectiveFetchDetailPages reports whether entity detail pages are fetched
func (c *AppConfig) EffectiveFetchDetailPages() bool {
	if c.FetchDetailPages != nil {
		return *c.FetchDetailPages
	}
	return true
}

// EffectiveHeadless reports whether the browser runs headless
func (c *AppConfig) EffectiveHeadless() bool {
	if c.Session.Headless != nil {
		return *c.Session.Headless
	}
	return true
}

// EffectiveExcel reports whether xlsx files are written
func (c *AppConfig) EffectiveExcel() bool {
	if c.Output.Excel != nil {
		return *c.Output.Excel
	}
	return true
}

// WeeksFor returns the number of regular-season weeks of a year: the
// configured override, else 18 from 2021 and 17 before.
func (c *AppConfig) WeeksFor(year int) int {
	if n, ok := c.Weeks[year]; ok && n > 0 {
		return n
	}
	if year >= 2021 {
		return 18
	}
	return 17
}
