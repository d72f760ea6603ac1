package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/gridstat/pfr-crawler/pkg/models"
	"github.com/gridstat/pfr-crawler/pkg/utils"
)

// maxVariables keeps multi-row inserts under SQLite's bound parameter limit.
const maxVariables = 900

// SQLiteLoader loads datasets into one table per dataset. Loading a dataset
// replaces its table.
type SQLiteLoader struct {
	db  *sql.DB
	log *logrus.Entry
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string, log *logrus.Entry) (*SQLiteLoader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite '%s': %w", utils.ErrDatabase, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: opening sqlite '%s': %w", utils.ErrDatabase, path, err)
	}
	return &SQLiteLoader{db: db, log: log}, nil
}

func (l *SQLiteLoader) DB() *sql.DB { return l.db }

func (l *SQLiteLoader) Close() error { return l.db.Close() }

// Load writes ds into a table named after it and returns the number of rows
// inserted. Absent values become NULL.
func (l *SQLiteLoader) Load(ctx context.Context, ds *models.Dataset) (int, error) {
	table := quoteIdent(utils.SanitizeIdentifier(ds.Name))
	columns := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		columns[i] = quoteIdent(c)
	}
	types := columnTypes(ds)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", utils.ErrDatabase, err)
	}
	defer tx.Rollback()

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c + " " + types[i]
	}
	ddl := []string{
		"DROP TABLE IF EXISTS " + table,
		"CREATE TABLE " + table + " (" + strings.Join(defs, ", ") + ")",
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("%w: %s: %w", utils.ErrDatabase, stmt, err)
		}
	}

	batch := max(1, maxVariables/max(len(columns), 1))
	insert := sq.Insert(table).Columns(columns...)
	pending, inserted := 0, 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("%w: building insert for %s: %w", utils.ErrDatabase, table, err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%w: inserting into %s: %w", utils.ErrDatabase, table, err)
		}
		inserted += pending
		pending = 0
		insert = sq.Insert(table).Columns(columns...)
		return nil
	}

	for r := range ds.Records() {
		vals := make([]any, len(r.Values))
		for i, v := range r.Values {
			vals[i] = v.Interface()
		}
		insert = insert.Values(vals...)
		pending++
		if pending == batch {
			if err := flush(); err != nil {
				return inserted, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit %s: %w", utils.ErrDatabase, table, err)
	}
	l.log.WithField("table", table).Debugf("Loaded %d rows", inserted)
	return inserted, nil
}

// columnTypes picks REAL for columns holding only numbers, INTEGER for
// columns holding only booleans and TEXT otherwise. Columns with no values
// are TEXT.
func columnTypes(ds *models.Dataset) []string {
	kinds := make([]models.ValueKind, len(ds.Columns))
	mixed := make([]bool, len(ds.Columns))
	for r := range ds.Records() {
		for i, v := range r.Values {
			if v.IsAbsent() || mixed[i] {
				continue
			}
			if kinds[i] == models.KindAbsent {
				kinds[i] = v.Kind()
			} else if kinds[i] != v.Kind() {
				mixed[i] = true
			}
		}
	}
	types := make([]string, len(kinds))
	for i, k := range kinds {
		switch {
		case mixed[i]:
			types[i] = "TEXT"
		case k == models.KindNumber:
			types[i] = "REAL"
		case k == models.KindBool:
			types[i] = "INTEGER"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
