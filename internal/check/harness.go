package check

import (
	"fmt"
	"math"
	"sort"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region types
// Scenario is one series to evaluate against an expected outcome.
type Scenario struct {
	Name   string
	Config stopping.Config
	Series []float64
	Expect stopping.Expectation
	// ExpectIteration, when set, must equal the verdict's stopping iteration.
	ExpectIteration *int
}

// Result captures the outcome of checking one scenario.
type Result struct {
	Name     string
	Expected stopping.Expectation
	Verdict  stopping.Verdict
	Match    bool
	Reason   string
	// Err is set when the scenario's policy is invalid. Verdict is zero then.
	Err error
}

// Summary provides aggregate stats from a check run.
type Summary struct {
	Total         int
	Matches       int
	Diverged      int
	Invalid       int
	Stopped       int
	NotStopped    int
	Disabled      int
	Indeterminate int
	Unexpected    int
}

// #endregion types

// #region run
// Run evaluates every scenario in order. It never stops early: invalid
// policies and mismatches are reported per result.
func Run(scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		res := Result{Name: sc.Name, Expected: sc.Expect}

		ev, err := stopping.NewEvaluator(sc.Config)
		if err != nil {
			res.Err = err
			res.Reason = err.Error()
			results = append(results, res)
			continue
		}
		v := ev.Evaluate(sc.Series)
		res.Verdict = v
		res.Match, res.Reason = stopping.Expect(v, sc.Expect)

		if res.Match && sc.ExpectIteration != nil {
			switch {
			case v.StoppingIteration == nil:
				res.Match = false
				res.Reason = fmt.Sprintf("expected stop at iteration %d, verdict has none", *sc.ExpectIteration)
			case *v.StoppingIteration != *sc.ExpectIteration:
				res.Match = false
				res.Reason = fmt.Sprintf("expected stop at iteration %d, got %d", *sc.ExpectIteration, *v.StoppingIteration)
			}
		}
		results = append(results, res)
	}
	return results
}

// Summarize computes aggregate stats from check results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.Invalid++
			s.Diverged++
			continue
		}
		if r.Match {
			s.Matches++
		} else {
			s.Diverged++
		}
		switch r.Verdict.Outcome {
		case stopping.OutcomeStopped:
			s.Stopped++
		case stopping.OutcomeNotStopped:
			s.NotStopped++
		case stopping.OutcomeDisabled:
			s.Disabled++
		case stopping.OutcomeIndeterminate:
			s.Indeterminate++
		case stopping.OutcomeUnexpectedHistory:
			s.Unexpected++
		}
	}
	return s
}

// #endregion run

// #region coefficients
// CoefficientDiff is one coefficient that differs between two tables.
// A name absent from one side is reported with the matching Missing flag.
type CoefficientDiff struct {
	Name         string
	Left         float64
	Right        float64
	LeftMissing  bool
	RightMissing bool
}

// CompareCoefficients reports whether a and b hold the same names with
// values within tol of each other. Two NaNs compare equal. Diffs are
// sorted by name.
func CompareCoefficients(a, b map[string]float64, tol float64) (bool, []CoefficientDiff) {
	var diffs []CoefficientDiff
	for name, av := range a {
		bv, ok := b[name]
		if !ok {
			diffs = append(diffs, CoefficientDiff{Name: name, Left: av, RightMissing: true})
			continue
		}
		if !coefEqual(av, bv, tol) {
			diffs = append(diffs, CoefficientDiff{Name: name, Left: av, Right: bv})
		}
	}
	for name, bv := range b {
		if _, ok := a[name]; !ok {
			diffs = append(diffs, CoefficientDiff{Name: name, Right: bv, LeftMissing: true})
		}
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Name < diffs[j].Name })
	return len(diffs) == 0, diffs
}

func coefEqual(a, b, tol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= tol
}

// CoefficientResult is the outcome of one fixture coefficient check.
type CoefficientResult struct {
	Name        string
	ExpectEqual bool
	Equal       bool
	Match       bool
	Diffs       []CoefficientDiff
}

// RunCoefficientChecks compares every coefficient pair in the fixture.
func (f *Fixture) RunCoefficientChecks() []CoefficientResult {
	out := make([]CoefficientResult, 0, len(f.CoefficientChecks))
	for _, c := range f.CoefficientChecks {
		eq, diffs := CompareCoefficients(c.Left, c.Right, c.Tolerance)
		out = append(out, CoefficientResult{
			Name:        c.Name,
			ExpectEqual: c.ExpectEqual,
			Equal:       eq,
			Match:       eq == c.ExpectEqual,
			Diffs:       diffs,
		})
	}
	return out
}

// #endregion coefficients
