package models

import "time"

// Cell is one table cell as found on the page: its visible text and the
// target of its first hyperlink, if any.
type Cell struct {
	Text string
	Href string
}

// RawRow is one body row: the row label (the leading th) and its data cells (td).
type RawRow struct {
	Label    Cell
	HasLabel bool
	Cells    []Cell
	Class    string
}

// RawTableUnit is the transient result of one table extraction pass. Rows
// from several tables of the same category (e.g. AFC and NFC) are concatenated.
type RawTableUnit struct {
	Header []string
	Rows   []RawRow
}

// UnitEntry stores the result of processing one fetch unit in the state DB
type UnitEntry struct {
	Status      UnitStatus `json:"status"`
	ErrorType   string     `json:"error_type,omitempty"`   // Error category (on failure)
	Attempts    int        `json:"attempts"`               // Attempts used by the last run
	Degraded    bool       `json:"degraded,omitempty"`     // Page load was stopped early
	ContentHash string     `json:"content_hash,omitempty"` // Hash of the primary document
	ProcessedAt time.Time  `json:"processed_at,omitempty"`
	LastAttempt time.Time  `json:"last_attempt"`
	Columns     []string   `json:"columns,omitempty"`
	Records     []Record   `json:"records,omitempty"` // Replayed into the accumulator on resume
}
