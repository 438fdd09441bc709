package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/check"
	"github.com/danielpatrickdp/stopcheck/internal/logging"
	"github.com/danielpatrickdp/stopcheck/internal/remote"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region fetch-cmd
type fetchOptions struct {
	addr        string
	column      string
	expect      string
	compareWith string
	coefTol     float64
	jsonOut     bool
	checks      bool
	record      bool
	policy      policyFlags
}

func (a *app) newFetchCmd() *cobra.Command {
	var o fetchOptions
	cmd := &cobra.Command{
		Use:   "fetch RUN_ID",
		Short: "Fetch a run's history from a history service and evaluate it",
		Example: `  stopcheck fetch 6f1c2d8e --addr history:50061 --expect stop --record
  stopcheck fetch 6f1c2d8e --compare-coefficients 91ab07c4`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFetch(cmd, args[0], o)
		},
	}
	cmd.Flags().StringVar(&o.addr, "addr", "", "history service address (default from config)")
	cmd.Flags().StringVar(&o.column, "column", "", "history column (default: the stopping metric's validation or training column)")
	cmd.Flags().StringVar(&o.expect, "expect", "", "expected outcome: stop, no_stop or disabled")
	cmd.Flags().StringVar(&o.compareWith, "compare-coefficients", "", "remote run whose coefficients must match")
	cmd.Flags().Float64Var(&o.coefTol, "coef-tolerance", 0, "absolute tolerance for --compare-coefficients")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&o.checks, "checks", false, "print every window comparison")
	cmd.Flags().BoolVar(&o.record, "record", false, "append the verdict to the local verdict log")
	o.policy.register(cmd)
	return cmd
}

func (a *app) runFetch(cmd *cobra.Command, runID string, o fetchOptions) error {
	var want stopping.Expectation
	if o.expect != "" {
		e, err := stopping.ParseExpectation(o.expect)
		if err != nil {
			return usageErr(err)
		}
		want = e
	}
	addr := o.addr
	if addr == "" {
		addr = a.cfg.Client.Addr
	}

	client, err := remote.Dial(addr, a.cfg.ClientOptions(), a.log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := cmd.Context()
	rh, err := client.FetchHistory(ctx, runID)
	if err != nil {
		return err
	}
	cfg, err := o.policy.resolve(cmd, rh.Run.Stopping)
	if err != nil {
		return err
	}
	series, source, err := seriesFrom(rh.Table, o.column, cfg)
	if err != nil {
		return err
	}
	v, err := stopping.Evaluate(series, cfg)
	if err != nil {
		return usageErr(err)
	}
	a.log.Debug().Str("run_id", runID).Str("addr", addr).Int("entries", len(series)).
		Str("outcome", string(v.Outcome)).Msg("evaluated remote history")

	if o.record {
		st, err := a.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		entry, err := logging.EntryFromVerdict(runID, cfg, o.column, v)
		if err != nil {
			return err
		}
		if err := logging.LogVerdict(st.DB(), st.Rebind, entry); err != nil {
			return err
		}
	}

	report := verdictReport{RunID: runID, Source: addr + ": " + source, Policy: cfg, Entries: len(series), Verdict: v}
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

	if o.compareWith != "" {
		return a.compareRemoteCoefficients(cmd, client, runID, o.compareWith, o.coefTol)
	}
	return nil
}

func (a *app) compareRemoteCoefficients(cmd *cobra.Command, client *remote.Client, left, right string, tol float64) error {
	lc, err := client.FetchCoefficients(cmd.Context(), left)
	if err != nil {
		return err
	}
	rc, err := client.FetchCoefficients(cmd.Context(), right)
	if err != nil {
		return err
	}
	equal, diffs := check.CompareCoefficients(lc, rc, tol)
	fmt.Fprintf(a.out, "\nCoefficients %s vs %s: %d names, equal=%v\n", shortID(left), shortID(right), len(lc), equal)
	for _, d := range diffs {
		fmt.Fprintf(a.out, "    %s: %s\n", d.Name, describeDiff(d))
	}
	if !equal {
		return &exitError{code: exitFailure, err: fmt.Errorf("coefficients differ in %d names", len(diffs))}
	}
	return nil
}

// #endregion fetch-cmd
