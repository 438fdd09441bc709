package check

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// helper: logloss policy with the given rounds and tolerance.
func policy(rounds int, tol float64) stopping.Config {
	return stopping.Config{Metric: stopping.MetricLogLoss, StoppingRounds: rounds, Tolerance: tol}
}

func intPtr(i int) *int { return &i }

// 1. Fixture files replay without divergence.
func TestRun_Fixtures(t *testing.T) {
	for _, name := range []string{"glm_early_stop.json", "gam_early_stop.json"} {
		t.Run(name, func(t *testing.T) {
			f, err := LoadFixture(filepath.Join("testdata", name))
			if err != nil {
				t.Fatalf("LoadFixture: %v", err)
			}
			scenarios, err := f.ToScenarios()
			if err != nil {
				t.Fatalf("ToScenarios: %v", err)
			}
			results := Run(scenarios)
			for _, r := range results {
				if !r.Match {
					t.Errorf("%s: %s", r.Name, r.Reason)
				}
			}
			sum := Summarize(results)
			if sum.Diverged != 0 || sum.Matches != len(scenarios) {
				t.Errorf("unexpected summary %+v", sum)
			}
			for _, c := range f.RunCoefficientChecks() {
				if !c.Match {
					t.Errorf("coefficient check %s: equal=%v diffs=%v", c.Name, c.Equal, c.Diffs)
				}
			}
		})
	}
}

// 2. Stop expected and found at the expected iteration.
func TestRun_StopAtIteration(t *testing.T) {
	results := Run([]Scenario{{
		Name:            "plateau",
		Config:          policy(3, 0.01),
		Series:          []float64{0.9, 0.8, 0.81, 0.81, 0.81, 0.81},
		Expect:          stopping.ExpectStop,
		ExpectIteration: intPtr(5),
	}})
	if !results[0].Match {
		t.Fatalf("expected match, got %s", results[0].Reason)
	}
	if results[0].Verdict.Overrun != 0 {
		t.Errorf("expected overrun 0, got %d", results[0].Verdict.Overrun)
	}
}

// 3. Wrong expected iteration diverges even though the run stopped.
func TestRun_IterationMismatch(t *testing.T) {
	results := Run([]Scenario{{
		Name:            "plateau",
		Config:          policy(3, 0.01),
		Series:          []float64{0.9, 0.8, 0.81, 0.81, 0.81, 0.81},
		Expect:          stopping.ExpectStop,
		ExpectIteration: intPtr(4),
	}})
	if results[0].Match {
		t.Fatal("expected mismatch on stopping iteration")
	}
}

// 4. Disabled is not the same as not stopped.
func TestRun_DisabledVsNoStop(t *testing.T) {
	cfg := policy(3, 0.01)
	cfg.ExhaustiveSearch = true
	results := Run([]Scenario{
		{Name: "disabled-as-nostop", Config: cfg, Series: nil, Expect: stopping.ExpectNoStop},
		{Name: "disabled", Config: cfg, Series: nil, Expect: stopping.ExpectDisabled},
		{Name: "history-despite-disabled", Config: cfg, Series: []float64{1, 0.9}, Expect: stopping.ExpectDisabled},
	})
	if results[0].Match {
		t.Error("disabled verdict must not match no_stop")
	}
	if !results[1].Match {
		t.Errorf("expected disabled match, got %s", results[1].Reason)
	}
	if results[2].Match {
		t.Error("non-empty history with stopping disabled must not match")
	}
	sum := Summarize(results)
	if sum.Disabled != 2 || sum.Unexpected != 1 || sum.Diverged != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

// 5. Indeterminate verdicts never match.
func TestRun_IndeterminateNeverMatches(t *testing.T) {
	results := Run([]Scenario{
		{Name: "short", Config: policy(5, 0.01), Series: []float64{0.9, 0.8, 0.7}, Expect: stopping.ExpectStop},
		{Name: "nan", Config: policy(1, 0.01), Series: []float64{0.9, math.NaN(), 0.7}, Expect: stopping.ExpectNoStop},
	})
	for _, r := range results {
		if r.Match {
			t.Errorf("%s: indeterminate verdict matched", r.Name)
		}
		if r.Verdict.Outcome != stopping.OutcomeIndeterminate {
			t.Errorf("%s: expected indeterminate, got %s", r.Name, r.Verdict.Outcome)
		}
	}
	if sum := Summarize(results); sum.Indeterminate != 2 || sum.Diverged != 2 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

// 6. Invalid policies are reported per result, not as a run failure.
func TestRun_InvalidPolicy(t *testing.T) {
	results := Run([]Scenario{
		{Name: "zero-rounds", Config: policy(0, 0.01), Series: []float64{1, 2}, Expect: stopping.ExpectStop},
		{Name: "ok", Config: policy(1, 0.01), Series: []float64{1, 1}, Expect: stopping.ExpectStop},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !errors.Is(results[0].Err, stopping.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", results[0].Err)
	}
	if !results[1].Match {
		t.Errorf("expected second scenario to match, got %s", results[1].Reason)
	}
	sum := Summarize(results)
	if sum.Invalid != 1 || sum.Matches != 1 || sum.Stopped != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

// 7. Empty input.
func TestRun_Empty(t *testing.T) {
	results := Run(nil)
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
	if sum := Summarize(results); sum.Total != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}

func TestCompareCoefficients_Identical(t *testing.T) {
	a := map[string]float64{"Intercept": -0.4, "C1": 0.2}
	eq, diffs := CompareCoefficients(a, map[string]float64{"Intercept": -0.4, "C1": 0.2}, 0)
	if !eq || len(diffs) != 0 {
		t.Fatalf("expected equal, got diffs %v", diffs)
	}
}

func TestCompareCoefficients_Tolerance(t *testing.T) {
	a := map[string]float64{"C1": 0.2}
	b := map[string]float64{"C1": 0.2005}
	if eq, _ := CompareCoefficients(a, b, 0); eq {
		t.Error("expected difference at zero tolerance")
	}
	if eq, _ := CompareCoefficients(a, b, 0.001); !eq {
		t.Error("expected equal within tolerance")
	}
}

func TestCompareCoefficients_MissingNames(t *testing.T) {
	a := map[string]float64{"Intercept": 1, "C1": 2}
	b := map[string]float64{"Intercept": 1, "C2": 3}
	eq, diffs := CompareCoefficients(a, b, 0)
	if eq {
		t.Fatal("expected tables to differ")
	}
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs, got %v", diffs)
	}
	if diffs[0].Name != "C1" || !diffs[0].RightMissing {
		t.Errorf("expected C1 missing on the right, got %+v", diffs[0])
	}
	if diffs[1].Name != "C2" || !diffs[1].LeftMissing {
		t.Errorf("expected C2 missing on the left, got %+v", diffs[1])
	}
}

func TestCompareCoefficients_NaN(t *testing.T) {
	nan := math.NaN()
	if eq, _ := CompareCoefficients(map[string]float64{"C": nan}, map[string]float64{"C": nan}, 0); !eq {
		t.Error("expected NaN to equal NaN")
	}
	if eq, _ := CompareCoefficients(map[string]float64{"C": nan}, map[string]float64{"C": 0}, 1); eq {
		t.Error("expected NaN to differ from a number")
	}
}
