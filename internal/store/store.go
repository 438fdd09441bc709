package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	algorithm         TEXT NOT NULL,
	family            TEXT,
	category          TEXT NOT NULL,
	metric            TEXT NOT NULL,
	stopping_rounds   INTEGER NOT NULL,
	tolerance         DOUBLE PRECISION NOT NULL,
	exhaustive_search INTEGER NOT NULL DEFAULT 0,
	columns_json      TEXT,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS history_rows (
	run_id      TEXT NOT NULL,
	row_index   INTEGER NOT NULL,
	scored_at   TEXT,
	duration_ms BIGINT NOT NULL,
	iteration   INTEGER NOT NULL,
	values_json TEXT NOT NULL,
	PRIMARY KEY (run_id, row_index),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS coefficients (
	run_id TEXT NOT NULL,
	name   TEXT NOT NULL,
	value  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, name),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS verdict_log (
	run_id             TEXT,
	metric             TEXT NOT NULL,
	stopping_rounds    INTEGER,
	tolerance          DOUBLE PRECISION,
	exhaustive_search  INTEGER,
	column_name        TEXT,
	outcome            TEXT NOT NULL,
	stopping_iteration INTEGER,
	reason             TEXT,
	checks_json        TEXT,
	created_at         TEXT NOT NULL
);
`

// addedColumns are applied to databases created before the column existed.
var addedColumns = []struct{ table, column, def string }{
	{"verdict_log", "stopping_rounds", "INTEGER"},
	{"verdict_log", "tolerance", "DOUBLE PRECISION"},
	{"verdict_log", "exhaustive_search", "INTEGER"},
	{"verdict_log", "column_name", "TEXT"},
}

// #endregion schema

// #region store-struct
// createdAtLayout is fixed-width so ListRuns can order created_at as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("run not found")

// Store persists runs, their scoring histories and coefficients.
type Store struct {
	db       *sql.DB
	postgres bool
}

// #endregion store-struct

// #region constructor
// NewStore opens the database and runs migrations. driver is "sqlite"
// (the default when empty) or "postgres".
func NewStore(driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" && driver != "postgres" {
		return nil, errors.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	s := &Store{db: db, postgres: driver == "postgres"}

	if !s.postgres {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "pragma")
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "pragma fk")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	if err := s.addMissingColumns(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) addMissingColumns() error {
	for _, c := range addedColumns {
		rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM %s LIMIT 0", c.column, c.table))
		if err == nil {
			rows.Close()
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.def)); err != nil {
			return errors.Wrapf(err, "add column %s.%s", c.table, c.column)
		}
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Rebind rewrites ? placeholders for the active driver.
func (s *Store) Rebind(query string) string {
	if !s.postgres {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders to postgres $n form.
func Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// #endregion close

// #region create-run
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// CreateRun inserts a run. A missing RunID is generated, a zero CreatedAt
// is set to now.
func (s *Store) CreateRun(run Run) (Run, error) {
	return s.insertRun(s.db, run)
}

// ImportRun inserts a run with its history and coefficients in one
// transaction, so a failed import leaves nothing behind.
func (s *Store) ImportRun(run Run, t history.Table, coefs map[string]float64) (Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Run{}, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if run, err = s.insertRun(tx, run); err != nil {
		return Run{}, err
	}
	if err := s.writeHistory(tx, run.RunID, t); err != nil {
		return Run{}, err
	}
	if err := s.writeCoefficients(tx, run.RunID, coefs); err != nil {
		return Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return Run{}, errors.Wrap(err, "commit")
	}
	return run, nil
}

func (s *Store) insertRun(ex execer, run Run) (Run, error) {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := ex.Exec(s.Rebind(
		`INSERT INTO runs (run_id, algorithm, family, category, metric, stopping_rounds, tolerance, exhaustive_search, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.RunID, run.Algorithm, nullIfEmpty(run.Family), string(run.Category),
		string(run.Stopping.Metric), run.Stopping.StoppingRounds, run.Stopping.Tolerance,
		boolToInt(run.Stopping.ExhaustiveSearch), run.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return Run{}, errors.Wrapf(err, "insert run %s", run.RunID)
	}
	return run, nil
}

// #endregion create-run

// #region get-run
// GetRun reads one run and counts its history rows.
func (s *Store) GetRun(runID string) (Run, error) {
	row := s.db.QueryRow(s.Rebind(
		`SELECT r.run_id, r.algorithm, r.family, r.category, r.metric, r.stopping_rounds,
		        r.tolerance, r.exhaustive_search, r.created_at,
		        (SELECT COUNT(*) FROM history_rows h WHERE h.run_id = r.run_id)
		 FROM runs r WHERE r.run_id = ?`), runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return Run{}, errors.Wrapf(err, "get run %s", runID)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(s.Rebind(
		`SELECT r.run_id, r.algorithm, r.family, r.category, r.metric, r.stopping_rounds,
		        r.tolerance, r.exhaustive_search, r.created_at,
		        (SELECT COUNT(*) FROM history_rows h WHERE h.run_id = r.run_id)
		 FROM runs r ORDER BY r.created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (Run, error) {
	var run Run
	var family sql.NullString
	var category, metric, createdStr string
	var exhaustive int

	err := sc.Scan(&run.RunID, &run.Algorithm, &family, &category, &metric,
		&run.Stopping.StoppingRounds, &run.Stopping.Tolerance, &exhaustive, &createdStr, &run.HistoryRows)
	if err != nil {
		return Run{}, err
	}
	if family.Valid {
		run.Family = family.String
	}
	run.Category = history.Category(category)
	run.Stopping.Metric = stopping.Metric(metric)
	run.Stopping.ExhaustiveSearch = exhaustive != 0
	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return Run{}, errors.Wrapf(err, "run %s created_at", run.RunID)
	}
	run.CreatedAt = created
	return run, nil
}

// #endregion get-run

// #region save-history
// SaveHistory replaces the scoring history stored for runID.
func (s *Store) SaveHistory(runID string, t history.Table) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := s.writeHistory(tx, runID, t); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) writeHistory(ex execer, runID string, t history.Table) error {
	colJSON, err := json.Marshal(t.Columns)
	if err != nil {
		return errors.Wrap(err, "marshal columns")
	}

	res, err := ex.Exec(s.Rebind(`UPDATE runs SET columns_json = ? WHERE run_id = ?`), string(colJSON), runID)
	if err != nil {
		return errors.Wrap(err, "update columns")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if _, err := ex.Exec(s.Rebind(`DELETE FROM history_rows WHERE run_id = ?`), runID); err != nil {
		return errors.Wrap(err, "clear history")
	}

	for i, r := range t.Rows {
		vals, err := encodeValues(r.Values)
		if err != nil {
			return errors.Wrapf(err, "encode row %d", i)
		}
		var scoredAt interface{}
		if !r.Timestamp.IsZero() {
			scoredAt = r.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		_, err = ex.Exec(s.Rebind(
			`INSERT INTO history_rows (run_id, row_index, scored_at, duration_ms, iteration, values_json)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			runID, i, scoredAt, r.Duration.Milliseconds(), r.Iteration, vals,
		)
		if err != nil {
			return errors.Wrapf(err, "insert row %d", i)
		}
	}
	return nil
}

// History loads the scoring history of runID. A run without rows yields a
// table with its columns and no rows.
func (s *Store) History(runID string) (history.Table, error) {
	var colJSON sql.NullString
	err := s.db.QueryRow(s.Rebind(`SELECT columns_json FROM runs WHERE run_id = ?`), runID).Scan(&colJSON)
	if err == sql.ErrNoRows {
		return history.Table{}, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return history.Table{}, errors.Wrapf(err, "get columns %s", runID)
	}

	t := history.Table{Name: history.TableName}
	if colJSON.Valid && colJSON.String != "" {
		if err := json.Unmarshal([]byte(colJSON.String), &t.Columns); err != nil {
			return history.Table{}, errors.Wrap(err, "unmarshal columns")
		}
	}

	rows, err := s.db.Query(s.Rebind(
		`SELECT scored_at, duration_ms, iteration, values_json FROM history_rows
		 WHERE run_id = ? ORDER BY row_index ASC`), runID)
	if err != nil {
		return history.Table{}, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	for rows.Next() {
		var r history.Row
		var scoredAt sql.NullString
		var durMS int64
		var vals string
		if err := rows.Scan(&scoredAt, &durMS, &r.Iteration, &vals); err != nil {
			return history.Table{}, errors.Wrap(err, "scan history row")
		}
		if scoredAt.Valid {
			if r.Timestamp, err = time.Parse(time.RFC3339Nano, scoredAt.String); err != nil {
				return history.Table{}, errors.Wrapf(err, "history row scored_at %q", scoredAt.String)
			}
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		if r.Values, err = decodeValues(vals); err != nil {
			return history.Table{}, errors.Wrap(err, "decode history row")
		}
		t.Rows = append(t.Rows, r)
	}
	return t, rows.Err()
}

// #endregion save-history

// #region coefficients
// SaveCoefficients replaces the coefficients stored for runID.
func (s *Store) SaveCoefficients(runID string, coefs map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := s.writeCoefficients(tx, runID, coefs); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *Store) writeCoefficients(ex execer, runID string, coefs map[string]float64) error {
	if _, err := ex.Exec(s.Rebind(`DELETE FROM coefficients WHERE run_id = ?`), runID); err != nil {
		return errors.Wrap(err, "clear coefficients")
	}
	for name, v := range coefs {
		_, err := ex.Exec(s.Rebind(`INSERT INTO coefficients (run_id, name, value) VALUES (?, ?, ?)`), runID, name, v)
		if err != nil {
			return errors.Wrapf(err, "insert coefficient %s", name)
		}
	}
	return nil
}

// Coefficients returns the coefficients of runID keyed by name.
func (s *Store) Coefficients(runID string) (map[string]float64, error) {
	rows, err := s.db.Query(s.Rebind(`SELECT name, value FROM coefficients WHERE run_id = ?`), runID)
	if err != nil {
		return nil, errors.Wrap(err, "query coefficients")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var name string
		var v float64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, errors.Wrap(err, "scan coefficient")
		}
		out[name] = v
	}
	return out, rows.Err()
}

// #endregion coefficients

// #region value-encoding
// NaN has no JSON form, so unset metrics are stored as null. ±Inf are
// stored as the strings "+Inf" and "-Inf".
func encodeValues(vals []float64) (string, error) {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
		case math.IsInf(v, 1):
			out[i] = "+Inf"
		case math.IsInf(v, -1):
			out[i] = "-Inf"
		default:
			out[i] = v
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func decodeValues(s string) ([]float64, error) {
	var in []json.RawMessage
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return nil, err
	}
	out := make([]float64, len(in))
	for i, raw := range in {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		switch x := v.(type) {
		case nil:
			out[i] = math.NaN()
		case float64:
			out[i] = x
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil || !math.IsInf(f, 0) {
				return nil, errors.Errorf("value %d: unexpected %q", i, x)
			}
			out[i] = f
		default:
			return nil, errors.Errorf("value %d: unexpected %s", i, raw)
		}
	}
	return out, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion value-encoding
