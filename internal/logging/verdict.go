package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region log-verdict
// LogVerdict writes an entry to the verdict_log table. rebind adapts the
// placeholders to the driver; nil leaves them as ?.
func LogVerdict(db *sql.DB, rebind func(string) string, entry VerdictEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO verdict_log (run_id, metric, stopping_rounds, tolerance, exhaustive_search, column_name,
		 outcome, stopping_iteration, reason, checks_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if rebind != nil {
		q = rebind(q)
	}

	var iter interface{}
	if entry.StoppingIteration != nil {
		iter = *entry.StoppingIteration
	}
	var rounds, tol, exhaustive interface{}
	if entry.StoppingRounds > 0 {
		rounds = entry.StoppingRounds
		tol = entry.Tolerance
		exhaustive = 0
		if entry.ExhaustiveSearch {
			exhaustive = 1
		}
	}

	_, err := db.Exec(q,
		nullIfEmpty(entry.RunID),
		string(entry.Metric),
		rounds,
		tol,
		exhaustive,
		nullIfEmpty(entry.Column),
		string(entry.Outcome),
		iter,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.ChecksJSON),
		entry.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("log verdict: %w", err)
	}
	return nil
}

// EntryFromVerdict fills an entry from an evaluation of column under cfg.
func EntryFromVerdict(runID string, cfg stopping.Config, column string, v stopping.Verdict) (VerdictEntry, error) {
	e := VerdictEntry{
		RunID:             runID,
		Metric:            cfg.Metric,
		StoppingRounds:    cfg.StoppingRounds,
		Tolerance:         cfg.Tolerance,
		ExhaustiveSearch:  cfg.ExhaustiveSearch,
		Column:            column,
		Outcome:           v.Outcome,
		StoppingIteration: v.StoppingIteration,
		Reason:            v.Reason,
	}
	if len(v.Checks) > 0 {
		b, err := json.Marshal(v.Checks)
		if err != nil {
			return VerdictEntry{}, fmt.Errorf("encode window checks: %w", err)
		}
		e.ChecksJSON = string(b)
	}
	return e, nil
}

// #endregion log-verdict

// #region list-verdicts
// createdAtLayout keeps nanoseconds fixed-width so created_at sorts as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ListVerdicts returns logged verdicts oldest first. An empty runID lists
// every entry.
func ListVerdicts(db *sql.DB, rebind func(string) string, runID string, limit int) ([]VerdictEntry, error) {
	q := `SELECT run_id, metric, stopping_rounds, tolerance, exhaustive_search, column_name,
		 outcome, stopping_iteration, reason, checks_json, created_at
		 FROM verdict_log`
	args := []interface{}{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)
	if rebind != nil {
		q = rebind(q)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []VerdictEntry
	for rows.Next() {
		var e VerdictEntry
		var runIDCol, column, reason, checks sql.NullString
		var iter, rounds, exhaustive sql.NullInt64
		var tol sql.NullFloat64
		var metric, outcome, created string
		if err := rows.Scan(&runIDCol, &metric, &rounds, &tol, &exhaustive, &column,
			&outcome, &iter, &reason, &checks, &created); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		e.RunID = runIDCol.String
		e.Metric = stopping.Metric(metric)
		e.StoppingRounds = int(rounds.Int64)
		e.Tolerance = tol.Float64
		e.ExhaustiveSearch = exhaustive.Int64 != 0
		e.Column = column.String
		e.Outcome = stopping.Outcome(outcome)
		if iter.Valid {
			i := int(iter.Int64)
			e.StoppingIteration = &i
		}
		e.Reason = reason.String
		e.ChecksJSON = checks.String
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("verdict created_at %q: %w", created, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-verdicts

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
