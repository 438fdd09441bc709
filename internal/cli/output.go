package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region verdict-output
// verdictReport is the --json form of one evaluation.
type verdictReport struct {
	RunID    string               `json:"run_id,omitempty"`
	Source   string               `json:"source"`
	Policy   stopping.Config      `json:"policy"`
	Entries  int                  `json:"entries"`
	Verdict  stopping.Verdict     `json:"verdict"`
	Expected stopping.Expectation `json:"expected,omitempty"`
	Match    *bool                `json:"match,omitempty"`
}

func printVerdict(w io.Writer, r verdictReport, withChecks bool) {
	dir := "lower is better"
	if r.Policy.HigherIsBetter() {
		dir = "higher is better"
	}
	if r.RunID != "" {
		fmt.Fprintf(w, "Run:        %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Source:     %s\n", r.Source)
	fmt.Fprintf(w, "Metric:     %s (%s)\n", r.Policy.Metric, dir)
	fmt.Fprintf(w, "Policy:     %d rounds, tolerance %g", r.Policy.StoppingRounds, r.Policy.Tolerance)
	if r.Policy.ExhaustiveSearch {
		fmt.Fprint(w, ", exhaustive search")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Entries:    %d\n", r.Entries)
	fmt.Fprintf(w, "Outcome:    %s\n", r.Verdict.Outcome)
	if r.Verdict.StoppingIteration != nil {
		fmt.Fprintf(w, "Stopped at: iteration %d (overrun %d)\n", *r.Verdict.StoppingIteration, r.Verdict.Overrun)
	}
	if r.Verdict.Outcome == stopping.OutcomeStopped || r.Verdict.Outcome == stopping.OutcomeNotStopped {
		fmt.Fprintf(w, "Best value: %s\n", formatFloat(r.Verdict.BestValue))
	}
	fmt.Fprintf(w, "Reason:     %s\n", r.Verdict.Reason)
	if r.Match != nil {
		res := "OK"
		if !*r.Match {
			res = "DIFF"
		}
		fmt.Fprintf(w, "Expected:   %s  %s\n", r.Expected, res)
	}

	if withChecks && len(r.Verdict.Checks) > 0 {
		fmt.Fprintf(w, "\n%-10s| %-12s| %-12s| %-12s| %s\n", "Iteration", "Window Best", "Running Best", "Improvement", "Improved")
		fmt.Fprintf(w, "%-10s+%-13s+%-13s+%-13s+%s\n", "----------", "-------------", "-------------", "-------------", "---------")
		for _, c := range r.Verdict.Checks {
			fmt.Fprintf(w, "%-10d| %-12s| %-12s| %-12s| %v\n",
				c.Iteration, formatFloat(c.WindowBest), formatFloat(c.RunningBest), formatFloat(c.Improvement), c.Improved)
		}
	}
}

// #endregion verdict-output

// #region helpers
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.6g", v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
