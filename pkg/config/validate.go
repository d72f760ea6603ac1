package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// BaseURL
	if c.BaseURL == "" {
		warnings = append(warnings, "base_url is empty, defaulting to 'https://www.pro-football-reference.com'")
		c.BaseURL = "https://www.pro-football-reference.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.FantasyBaseURL == "" {
		c.FantasyBaseURL = "https://www.fantasypros.com"
	}
	c.FantasyBaseURL = strings.TrimRight(c.FantasyBaseURL, "/")

	// Years
	if len(c.Years.List) == 0 {
		if c.Years.From == 0 && c.Years.To == 0 {
			warnings = append(warnings, "years not specified, defaulting to 2000-2023")
			c.Years.From, c.Years.To = 2000, 2023
		} else if c.Years.To == 0 {
			c.Years.To = c.Years.From
		} else if c.Years.From == 0 {
			c.Years.From = c.Years.To
		}
		if c.Years.From > c.Years.To {
			return warnings, fmt.Errorf("%w: years.from (%d) is after years.to (%d)",
				utils.ErrConfigValidation, c.Years.From, c.Years.To)
		}
	}
	for _, y := range c.Years.List {
		if y <= 0 {
			return warnings, fmt.Errorf("%w: invalid year %d in years.list", utils.ErrConfigValidation, y)
		}
	}

	// Positions
	if len(c.Positions) == 0 {
		c.Positions = []string{"dst", "dl"}
	}

	// PageLoadTimeout
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 3 * time.Second
	}

	// MaxAttempts
	if c.MaxAttempts <= 0 {
		if c.MaxAttempts < 0 {
			warnings = append(warnings, "max_attempts cannot be negative, defaulting to 5")
		}
		c.MaxAttempts = 5
	}

	// Retry delays
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = 1 * time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 30 * time.Second
	}
	if c.InitialRetryDelay > c.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// Workers
	if c.Workers <= 0 {
		if c.Workers < 0 {
			warnings = append(warnings, "workers should be > 0, defaulting to 2")
		}
		c.Workers = 2
	}

	// GlobalTimeout
	if c.GlobalTimeout < 0 {
		warnings = append(warnings, "global_timeout cannot be negative, disabling timeout")
		c.GlobalTimeout = 0
	}

	// Session
	sessionWarnings, err := c.Session.validate()
	warnings = append(warnings, sessionWarnings...)
	if err != nil {
		return warnings, err
	}

	// Output
	if c.Output.Dir == "" {
		c.Output.Dir = "./data"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './crawler_state'")
		c.StateDir = "./crawler_state"
	}

	// Insert rule overrides
	for category, rules := range c.InsertRules {
		for _, r := range rules {
			if r.WhenCells <= 0 || r.At < 0 || r.At > r.WhenCells {
				return warnings, fmt.Errorf("%w: insert rule for %s has when_cells=%d at=%d",
					utils.ErrConfigValidation, category, r.WhenCells, r.At)
			}
		}
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB <= 0 {
			c.Log.MaxSizeMB = 50
		}
		if c.Log.MaxBackups <= 0 {
			c.Log.MaxBackups = 3
		}
	}

	return warnings, nil
}

// validate applies session defaults and rejects unknown drivers.
func (s *SessionConfig) validate() (warnings []string, err error) {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case "":
		s.Driver = DriverRod
	case DriverRod, DriverHTTP:
	case DriverDir:
		if s.Dir == "" {
			return nil, fmt.Errorf("%w: session driver 'dir' needs session.dir", utils.ErrConfigValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unknown session driver %q (want rod, http or dir)",
			utils.ErrConfigValidation, s.Driver)
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 4
	}
	if s.DelayPerHost < 0 {
		warnings = append(warnings, "session.delay_per_host cannot be negative, disabling delay")
		s.DelayPerHost = 0
	}
	s.HTTP.applyDefaults()
	return warnings, nil
}

// applyDefaults applies defaults to HTTP client settings.
func (h *HTTPClientConfig) applyDefaults() {
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
