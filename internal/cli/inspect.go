package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/logging"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region inspect-cmd
func (a *app) newInspectCmd() *cobra.Command {
	var last int
	var runID string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored runs or show one run with its verdicts",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if runID != "" {
				return a.runDetailMode(st, runID, jsonOut)
			}
			return a.runListMode(st, last, jsonOut)
		},
	}
	cmd.Flags().IntVar(&last, "last", 20, "show N most recent runs")
	cmd.Flags().StringVar(&runID, "run", "", "show single run detail")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON instead of table")
	return cmd
}

// #endregion inspect-cmd

// #region list-mode
type listRow struct {
	RunID       string  `json:"run_id"`
	Algorithm   string  `json:"algorithm"`
	Family      string  `json:"family,omitempty"`
	Metric      string  `json:"metric"`
	Rounds      int     `json:"stopping_rounds"`
	Tolerance   float64 `json:"tolerance"`
	Exhaustive  bool    `json:"exhaustive_search"`
	HistoryRows int     `json:"history_rows"`
	LastOutcome string  `json:"last_outcome,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func (a *app) runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.errOut, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		lr := listRow{
			RunID:       r.RunID,
			Algorithm:   r.Algorithm,
			Family:      r.Family,
			Metric:      string(r.Stopping.Metric),
			Rounds:      r.Stopping.StoppingRounds,
			Tolerance:   r.Stopping.Tolerance,
			Exhaustive:  r.Stopping.ExhaustiveSearch,
			HistoryRows: r.HistoryRows,
			CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		entries, err := logging.ListVerdicts(st.DB(), st.Rebind, r.RunID, 10000)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			lr.LastOutcome = string(entries[len(entries)-1].Outcome)
		}
		rows[i] = lr
	}

	if jsonOut {
		return printJSON(a.out, rows)
	}

	fmt.Fprintf(a.out, "%-10s  %-5s  %-12s  %-20s  %6s  %9s  %5s  %-18s  %s\n",
		"Run", "Algo", "Family", "Metric", "Rounds", "Tolerance", "Rows", "Last Outcome", "Created")
	fmt.Fprintf(a.out, "%-10s+-%-5s+-%-12s+-%-20s+-%6s+-%9s+-%5s+-%-18s+-%s\n",
		"----------", "-----", "------------", "--------------------", "------", "---------", "-----", "------------------", "--------------------")
	for _, r := range rows {
		family := r.Family
		if family == "" {
			family = "-"
		}
		outcome := r.LastOutcome
		if outcome == "" {
			outcome = "-"
		}
		metric := r.Metric
		if r.Exhaustive {
			metric += " (off)"
		}
		fmt.Fprintf(a.out, "%-10s  %-5s  %-12s  %-20s  %6d  %9g  %5d  %-18s  %s\n",
			shortID(r.RunID), r.Algorithm, family, metric, r.Rounds, r.Tolerance, r.HistoryRows, outcome, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	Run          store.Run          `json:"run"`
	Columns      []string           `json:"columns"`
	Series       string             `json:"series,omitempty"`
	Summary      *history.Summary   `json:"summary,omitempty"`
	Coefficients map[string]float64 `json:"coefficients,omitempty"`
	Verdicts     []verdictRow       `json:"verdicts"`
}

type verdictRow struct {
	Metric            string   `json:"metric"`
	Rounds            int      `json:"stopping_rounds,omitempty"`
	Tolerance         *float64 `json:"tolerance,omitempty"`
	Column            string   `json:"column,omitempty"`
	Outcome           string   `json:"outcome"`
	StoppingIteration *int     `json:"stopping_iteration,omitempty"`
	Reason            string   `json:"reason,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

func (a *app) runDetailMode(st *store.Store, runID string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	tbl, err := st.History(runID)
	if err != nil {
		return err
	}
	coefs, err := st.Coefficients(runID)
	if err != nil {
		return err
	}
	entries, err := logging.ListVerdicts(st.DB(), st.Rebind, runID, 10000)
	if err != nil {
		return err
	}

	out := detailOutput{Run: run, Columns: tbl.Columns, Coefficients: coefs, Verdicts: []verdictRow{}}
	if series, d, err := tbl.StoppingSeries(run.Stopping.Metric); err == nil {
		sum := history.Summarize(series)
		out.Summary = &sum
		out.Series, _ = history.MetricHeader(d, run.Stopping.Metric)
	}
	for _, e := range entries {
		row := verdictRow{
			Metric:            string(e.Metric),
			Column:            e.Column,
			Outcome:           string(e.Outcome),
			StoppingIteration: e.StoppingIteration,
			Reason:            e.Reason,
			CreatedAt:         e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		if p, ok := e.Policy(); ok {
			row.Rounds = p.StoppingRounds
			row.Tolerance = &p.Tolerance
		}
		out.Verdicts = append(out.Verdicts, row)
	}

	if jsonOut {
		return printJSON(a.out, out)
	}

	fmt.Fprintf(a.out, "Run:        %s\n", run.RunID)
	fmt.Fprintf(a.out, "Algorithm:  %s %s (%s)\n", run.Algorithm, run.Family, run.Category)
	fmt.Fprintf(a.out, "Policy:     %s, %d rounds, tolerance %g, exhaustive %v\n",
		run.Stopping.Metric, run.Stopping.StoppingRounds, run.Stopping.Tolerance, run.Stopping.ExhaustiveSearch)
	fmt.Fprintf(a.out, "History:    %d rows, %d columns\n", tbl.Len(), len(tbl.Columns))
	if out.Summary != nil {
		s := out.Summary
		fmt.Fprintf(a.out, "Series:     %s  first %s  last %s  min %s  max %s  missing %d\n",
			out.Series, formatFloat(s.First), formatFloat(s.Last), formatFloat(s.Min), formatFloat(s.Max), s.Missing)
	}
	if len(coefs) > 0 {
		fmt.Fprintf(a.out, "Coefs:      %d\n", len(coefs))
	}

	fmt.Fprintf(a.out, "\nVerdicts:\n")
	if len(out.Verdicts) == 0 {
		fmt.Fprintln(a.out, "  (none recorded)")
	}
	for _, v := range out.Verdicts {
		stop := "-"
		if v.StoppingIteration != nil {
			stop = fmt.Sprintf("%d", *v.StoppingIteration)
		}
		policy := v.Metric
		if v.Tolerance != nil {
			policy = fmt.Sprintf("%s r=%d tol=%g", v.Metric, v.Rounds, *v.Tolerance)
		}
		fmt.Fprintf(a.out, "  %s  %-28s %-18s stop=%-4s %s\n", v.CreatedAt, policy, v.Outcome, stop, v.Reason)
	}
	return nil
}

// #endregion detail-mode
