package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/logging"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region evaluate-cmd
type evaluateOptions struct {
	values  string
	file    string
	column  string
	runID   string
	expect  string
	jsonOut bool
	checks  bool
	record  bool
	policy  policyFlags
}

func (a *app) newEvaluateCmd() *cobra.Command {
	var o evaluateOptions
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Decide whether a metric series triggered early stopping",
		Example: `  stopcheck evaluate --values 0.9,0.8,0.81,0.81,0.81,0.81 --metric logloss --rounds 3 --tolerance 0.01
  stopcheck evaluate --file history.csv --column "Validation LogLoss" --expect stop
  stopcheck evaluate --run 6f1c2d8e --record`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEvaluate(cmd, o)
		},
	}
	cmd.Flags().StringVar(&o.values, "values", "", "comma-separated metric series (\"\" for an empty history)")
	cmd.Flags().StringVar(&o.file, "file", "", "scoring history CSV")
	cmd.Flags().StringVar(&o.column, "column", "", "history column (default: the stopping metric's validation or training column)")
	cmd.Flags().StringVar(&o.runID, "run", "", "evaluate a stored run")
	cmd.Flags().StringVar(&o.expect, "expect", "", "expected outcome: stop, no_stop or disabled")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&o.checks, "checks", false, "print every window comparison")
	cmd.Flags().BoolVar(&o.record, "record", false, "append the verdict to the verdict log")
	o.policy.register(cmd)
	return cmd
}

func (a *app) runEvaluate(cmd *cobra.Command, o evaluateOptions) error {
	sources := 0
	for _, name := range []string{"values", "file", "run"} {
		if cmd.Flags().Changed(name) {
			sources++
		}
	}
	if sources != 1 {
		return usagef("exactly one of --values, --file or --run is required")
	}
	if cmd.Flags().Changed("file") && o.file == "" || cmd.Flags().Changed("run") && o.runID == "" {
		return usagef("--file and --run need a value")
	}
	var want stopping.Expectation
	if o.expect != "" {
		e, err := stopping.ParseExpectation(o.expect)
		if err != nil {
			return usageErr(err)
		}
		want = e
	}

	var st *store.Store
	if o.runID != "" || o.record {
		var err error
		if st, err = a.openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	base := a.cfg.Stopping
	var run store.Run
	if o.runID != "" {
		var err error
		if run, err = st.GetRun(o.runID); err != nil {
			return err
		}
		base = run.Stopping
	}
	cfg, err := o.policy.resolve(cmd, base)
	if err != nil {
		return err
	}

	var series []float64
	var source string
	switch {
	case cmd.Flags().Changed("values"):
		if series, err = parseValues(o.values); err != nil {
			return usageErr(err)
		}
		source = "values"
	case o.file != "":
		tbl, err := history.LoadCSV(o.file)
		if err != nil {
			return err
		}
		if series, source, err = seriesFrom(tbl, o.column, cfg); err != nil {
			return err
		}
		source = o.file + ": " + source
	default:
		tbl, err := st.History(o.runID)
		if err != nil {
			return err
		}
		if series, source, err = seriesFrom(tbl, o.column, cfg); err != nil {
			return err
		}
	}

	v, err := stopping.Evaluate(series, cfg)
	if err != nil {
		return usageErr(err)
	}
	a.log.Debug().Str("metric", string(cfg.Metric)).Int("entries", len(series)).
		Str("outcome", string(v.Outcome)).Msg("evaluated")

	if o.record {
		entry, err := logging.EntryFromVerdict(run.RunID, cfg, o.column, v)
		if err != nil {
			return err
		}
		if err := logging.LogVerdict(st.DB(), st.Rebind, entry); err != nil {
			return err
		}
		a.log.Info().Str("run_id", run.RunID).Str("outcome", string(v.Outcome)).Msg("verdict recorded")
	}

	report := verdictReport{RunID: run.RunID, Source: source, Policy: cfg, Entries: len(series), Verdict: v}
	var match bool
	var reason string
	if want != "" {
		match, reason = stopping.Expect(v, want)
		report.Expected = want
		report.Match = &match
	}

	if o.jsonOut {
		if err := printJSON(a.out, report); err != nil {
			return err
		}
	} else {
		printVerdict(a.out, report, o.checks)
	}

	if want != "" && !match {
		return &exitError{code: exitFailure, err: fmt.Errorf("verdict does not match expectation: %s", reason)}
	}
	return nil
}

// #endregion evaluate-cmd

// #region series
// seriesFrom picks column from tbl, or the stopping series for cfg's metric.
// A run with stopping disabled and no rows yields an empty series.
func seriesFrom(tbl history.Table, column string, cfg stopping.Config) ([]float64, string, error) {
	if cfg.ExhaustiveSearch && tbl.Len() == 0 {
		return nil, "empty history", nil
	}
	if column != "" {
		s, err := tbl.Column(column)
		return s, column, err
	}
	s, d, err := tbl.StoppingSeries(cfg.Metric)
	if err != nil {
		return nil, "", err
	}
	h, _ := history.MetricHeader(d, cfg.Metric)
	return s, h, nil
}

func parseValues(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// #endregion series
