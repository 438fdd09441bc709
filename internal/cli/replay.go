package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/check"
	"github.com/danielpatrickdp/stopcheck/internal/logging"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region replay-cmd
func (a *app) newReplayCmd() *cobra.Command {
	var fixturePath string
	var stored bool
	var last int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-evaluate scenarios and compare against expected or recorded outcomes",
		Example: `  stopcheck replay --fixture testdata/glm_early_stop.json
  stopcheck replay --stored --last 50`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (fixturePath == "") == !stored {
				return usagef("exactly one of --fixture or --stored is required")
			}
			if fixturePath != "" {
				return a.runFixtureMode(fixturePath)
			}
			return a.runStoredMode(last)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "fixture JSON")
	cmd.Flags().BoolVar(&stored, "stored", false, "re-evaluate stored runs against their last recorded verdict")
	cmd.Flags().IntVar(&last, "last", 100, "number of most recent runs in --stored mode")
	return cmd
}

// #endregion replay-cmd

// #region fixture-mode
func (a *app) runFixtureMode(path string) error {
	f, err := check.LoadFixture(path)
	if err != nil {
		return err
	}
	scenarios, err := f.ToScenarios()
	if err != nil {
		return err
	}
	results := check.Run(scenarios)
	coefResults := f.RunCoefficientChecks()

	if f.Description != "" {
		fmt.Fprintf(a.out, "%s\n\n", f.Description)
	}
	diverged := printComparison(a.out, results)

	if len(coefResults) > 0 {
		fmt.Fprintf(a.out, "\n%-44s| %-8s| %-8s| %s\n", "Coefficient check", "Expected", "Equal", "Match")
		fmt.Fprintf(a.out, "%-44s+%-9s+%-9s+%s\n", "--------------------------------------------", "---------", "---------", "------")
		for _, c := range coefResults {
			match := "OK"
			if !c.Match {
				match = "DIFF"
				diverged++
			}
			fmt.Fprintf(a.out, "%-44s| %-8v| %-8v| %s\n", c.Name, c.ExpectEqual, c.Equal, match)
			for _, d := range c.Diffs {
				fmt.Fprintf(a.out, "    %s: %s\n", d.Name, describeDiff(d))
			}
		}
	}

	a.log.Info().Str("fixture", path).Int("scenarios", len(results)).Int("diverged", diverged).Msg("replay finished")
	if diverged > 0 {
		return errDiverged
	}
	return nil
}

func describeDiff(d check.CoefficientDiff) string {
	switch {
	case d.LeftMissing:
		return fmt.Sprintf("only on the right (%s)", formatFloat(d.Right))
	case d.RightMissing:
		return fmt.Sprintf("only on the left (%s)", formatFloat(d.Left))
	}
	return fmt.Sprintf("%s != %s", formatFloat(d.Left), formatFloat(d.Right))
}

// #endregion fixture-mode

// #region stored-mode
// runStoredMode re-evaluates each stored run under the policy and column of
// the last verdict recorded for it, and compares the outcomes. Runs without
// a verdict are skipped. Verdicts logged without a policy fall back to the
// run's own.
func (a *app) runStoredMode(last int) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}

	var scenarios []check.Scenario
	skipped := 0
	for _, run := range runs {
		sc, ok, err := a.storedScenario(st, run)
		if err != nil {
			return err
		}
		if !ok {
			skipped++
			continue
		}
		scenarios = append(scenarios, sc)
	}
	if len(scenarios) == 0 {
		fmt.Fprintf(a.errOut, "no runs with a recorded verdict (%d skipped)\n", skipped)
		return nil
	}

	diverged := printComparison(a.out, check.Run(scenarios))
	if skipped > 0 {
		fmt.Fprintf(a.out, "%d runs without a recorded verdict skipped\n", skipped)
	}
	if diverged > 0 {
		return errDiverged
	}
	return nil
}

func (a *app) storedScenario(st *store.Store, run store.Run) (check.Scenario, bool, error) {
	entries, err := logging.ListVerdicts(st.DB(), st.Rebind, run.RunID, 10000)
	if err != nil {
		return check.Scenario{}, false, err
	}
	if len(entries) == 0 {
		return check.Scenario{}, false, nil
	}
	recorded := entries[len(entries)-1]
	want, ok := expectationFor(recorded.Outcome)
	if !ok {
		a.log.Debug().Str("run_id", run.RunID).Str("outcome", string(recorded.Outcome)).Msg("recorded outcome not comparable")
		return check.Scenario{}, false, nil
	}

	cfg, ok := recorded.Policy()
	if !ok {
		cfg = run.Stopping
		if recorded.Metric != "" {
			cfg.Metric = recorded.Metric
		}
	}
	tbl, err := st.History(run.RunID)
	if err != nil {
		return check.Scenario{}, false, err
	}
	series, _, err := seriesFrom(tbl, recorded.Column, cfg)
	if err != nil {
		return check.Scenario{}, false, err
	}
	return check.Scenario{
		Name:            shortID(run.RunID) + " " + string(cfg.Metric),
		Config:          cfg,
		Series:          series,
		Expect:          want,
		ExpectIteration: recorded.StoppingIteration,
	}, true, nil
}

func expectationFor(o stopping.Outcome) (stopping.Expectation, bool) {
	switch o {
	case stopping.OutcomeStopped:
		return stopping.ExpectStop, true
	case stopping.OutcomeNotStopped:
		return stopping.ExpectNoStop, true
	case stopping.OutcomeDisabled:
		return stopping.ExpectDisabled, true
	}
	return "", false
}

// #endregion stored-mode

// #region output
// printComparison outputs a comparison table and returns the number of
// diverging scenarios.
func printComparison(w io.Writer, results []check.Result) int {
	fmt.Fprintf(w, "%-44s| %-9s| %-19s| %-6s| %s\n", "Scenario", "Expected", "Outcome", "Stop", "Match")
	fmt.Fprintf(w, "%-44s+%-10s+%-20s+%-7s+%s\n",
		"--------------------------------------------", "----------", "--------------------", "-------", "------")

	for _, r := range results {
		outcome := string(r.Verdict.Outcome)
		if r.Err != nil {
			outcome = "invalid"
		}
		stop := "-"
		if r.Verdict.StoppingIteration != nil {
			stop = fmt.Sprintf("%d", *r.Verdict.StoppingIteration)
		}
		match := "OK"
		if !r.Match {
			match = "DIFF"
		}
		fmt.Fprintf(w, "%-44s| %-9s| %-19s| %-6s| %s\n", r.Name, r.Expected, outcome, stop, match)
		if !r.Match {
			fmt.Fprintf(w, "    %s\n", r.Reason)
		}
	}

	sum := check.Summarize(results)
	fmt.Fprintf(w, "\nSummary: %d total, %d match, %d diverge\n", sum.Total, sum.Matches, sum.Diverged)
	return sum.Diverged
}

// #endregion output
