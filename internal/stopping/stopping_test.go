package stopping

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func cfg(m Metric, rounds int, tol float64) Config {
	return Config{Metric: m, StoppingRounds: rounds, Tolerance: tol}
}

func mustEvaluate(t *testing.T, series []float64, c Config) Verdict {
	t.Helper()
	v, err := Evaluate(series, c)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return v
}

// #region scenario-tests
func TestEvaluateLogLossPlateauStopsAtFive(t *testing.T) {
	series := []float64{0.9, 0.8, 0.81, 0.81, 0.81, 0.81}
	v := mustEvaluate(t, series, cfg(MetricLogLoss, 3, 0.01))

	if v.Outcome != OutcomeStopped {
		t.Fatalf("expected stopped, got %s (%s)", v.Outcome, v.Reason)
	}
	if !v.StoppedCorrectly {
		t.Fatal("expected StoppedCorrectly")
	}
	if v.StoppingIteration == nil || *v.StoppingIteration != 5 {
		t.Fatalf("expected stopping iteration 5, got %v", v.StoppingIteration)
	}
	if v.Overrun != 0 {
		t.Fatalf("expected no overrun, got %d", v.Overrun)
	}
	if v.BestValue != 0.8 {
		t.Fatalf("expected best 0.8, got %f", v.BestValue)
	}
	if len(v.Checks) != 3 {
		t.Fatalf("expected 3 window checks, got %d", len(v.Checks))
	}
	for _, c := range v.Checks {
		if c.Improved {
			t.Fatalf("window at %d should not count as improving", c.Iteration)
		}
	}
}

func TestEvaluateEmptySeriesIsIndeterminate(t *testing.T) {
	for _, m := range []Metric{MetricLogLoss, MetricDeviance, MetricRMSE, MetricR2} {
		v, err := Evaluate(nil, cfg(m, 3, 0.01))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", m, err)
		}
		if v.Outcome != OutcomeIndeterminate {
			t.Fatalf("%s: expected indeterminate, got %s", m, v.Outcome)
		}
		if v.StoppingIteration != nil {
			t.Fatalf("%s: indeterminate verdict should carry no stopping iteration", m)
		}
	}
}

func TestEvaluateShortSeriesIsIndeterminate(t *testing.T) {
	v := mustEvaluate(t, []float64{0.5, 0.4, 0.4}, cfg(MetricDeviance, 3, 0.01))
	if v.Outcome != OutcomeIndeterminate {
		t.Fatalf("expected indeterminate for len == rounds, got %s", v.Outcome)
	}
}

func TestEvaluateExhaustiveSearchDisablesStopping(t *testing.T) {
	for _, rounds := range []int{1, 3, 5} {
		c := cfg(MetricLogLoss, rounds, 0.01)
		c.ExhaustiveSearch = true

		v := mustEvaluate(t, nil, c)
		if v.Outcome != OutcomeDisabled {
			t.Fatalf("rounds=%d: expected disabled, got %s", rounds, v.Outcome)
		}
		if v.StoppedCorrectly {
			t.Fatal("disabled verdict must not report a stop")
		}

		v = mustEvaluate(t, []float64{0.9, 0.8}, c)
		if v.Outcome != OutcomeUnexpectedHistory {
			t.Fatalf("rounds=%d: expected unexpected_history, got %s", rounds, v.Outcome)
		}
	}
}

// #endregion scenario-tests

// #region property-tests
func TestEvaluateStrictlyImprovingNeverStops(t *testing.T) {
	for _, rounds := range []int{1, 2, 3, 5} {
		series := make([]float64, 30)
		series[0] = 1.0
		for i := 1; i < len(series); i++ {
			series[i] = series[i-1] * 0.9 // 10% better each entry
		}
		v := mustEvaluate(t, series, cfg(MetricLogLoss, rounds, 0.05))
		if v.Outcome != OutcomeNotStopped {
			t.Fatalf("rounds=%d: expected not_stopped, got %s at %v", rounds, v.Outcome, v.StoppingIteration)
		}
	}
}

func TestEvaluateStrictlyImprovingHigherIsBetter(t *testing.T) {
	series := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	v := mustEvaluate(t, series, cfg(MetricR2, 2, 0.1))
	if v.Outcome != OutcomeNotStopped {
		t.Fatalf("expected not_stopped, got %s", v.Outcome)
	}
	if v.BestValue != 0.7 {
		t.Fatalf("expected best 0.7, got %f", v.BestValue)
	}
}

func TestEvaluateFlatAfterKStopsAtKPlusRounds(t *testing.T) {
	cases := []struct {
		name   string
		metric Metric
		series []float64
		k      int
		rounds int
		tol    float64
	}{
		{"logloss k=3 r=3", MetricLogLoss, []float64{1.0, 0.8, 0.6, 0.4, 0.4, 0.4, 0.4, 0.4}, 3, 3, 0.01},
		{"logloss k=2 r=3", MetricLogLoss, []float64{1.0, 0.8, 0.6, 0.6, 0.6, 0.6}, 2, 3, 0},
		{"rmse k=4 r=2", MetricRMSE, []float64{5, 4, 3, 2, 1, 1, 1, 1}, 4, 2, 0.05},
		{"r2 k=3 r=2", MetricR2, []float64{0.1, 0.2, 0.3, 0.5, 0.5, 0.5, 0.5}, 3, 2, 0},
		{"auc k=1 r=1", MetricAUC, []float64{0.6, 0.7, 0.7, 0.7}, 1, 1, 0.001},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := mustEvaluate(t, tc.series, cfg(tc.metric, tc.rounds, tc.tol))
			if v.Outcome != OutcomeStopped {
				t.Fatalf("expected stopped, got %s (%s)", v.Outcome, v.Reason)
			}
			want := tc.k + tc.rounds
			if *v.StoppingIteration != want {
				t.Fatalf("expected stop at %d, got %d", want, *v.StoppingIteration)
			}
			if v.Overrun != len(tc.series)-1-want {
				t.Fatalf("expected overrun %d, got %d", len(tc.series)-1-want, v.Overrun)
			}
		})
	}
}

// A series flat from an index inside the seed window stops at 2r-1: the
// seed window already holds the plateau value, so the first r windows after
// it are the non-improving ones.
func TestEvaluateFlatWithinSeedWindowStopsAtTwiceRoundsMinusOne(t *testing.T) {
	cases := []struct {
		name   string
		metric Metric
		series []float64
		rounds int
		tol    float64
	}{
		{"constant logloss r=1", MetricLogLoss, []float64{0.7, 0.7, 0.7}, 1, 0},
		{"constant logloss r=3", MetricLogLoss, []float64{0.7, 0.7, 0.7, 0.7, 0.7, 0.7, 0.7}, 3, 0.01},
		{"constant r2 r=2", MetricR2, []float64{0.4, 0.4, 0.4, 0.4}, 2, 0},
		{"constant zero deviance r=2", MetricDeviance, []float64{0, 0, 0, 0, 0}, 2, 0},
		{"constant negative r2 r=4", MetricR2, []float64{-0.2, -0.2, -0.2, -0.2, -0.2, -0.2, -0.2, -0.2}, 4, 0},
		{"flat from k=1 r=3", MetricLogLoss, []float64{1.0, 0.8, 0.8, 0.8, 0.8, 0.8, 0.8}, 3, 0.01},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := mustEvaluate(t, tc.series, cfg(tc.metric, tc.rounds, tc.tol))
			if v.Outcome != OutcomeStopped {
				t.Fatalf("expected stopped, got %s (%s)", v.Outcome, v.Reason)
			}
			want := 2*tc.rounds - 1
			if *v.StoppingIteration != want {
				t.Fatalf("expected stop at %d, got %d", want, *v.StoppingIteration)
			}
		})
	}
}

func TestEvaluateConstantShorterThanTwiceRoundsDoesNotStop(t *testing.T) {
	v := mustEvaluate(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5}, cfg(MetricLogLoss, 3, 0.01))
	if v.Outcome != OutcomeNotStopped {
		t.Fatalf("expected not_stopped with 5 entries and 3 rounds, got %s", v.Outcome)
	}
	if len(v.Checks) != 2 {
		t.Fatalf("expected 2 window checks, got %d", len(v.Checks))
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	series := []float64{0.9, 0.8, 0.81, 0.79, 0.79, 0.8, 0.8, 0.8}
	c := cfg(MetricDeviance, 2, 0.02)

	first := mustEvaluate(t, series, c)
	second := mustEvaluate(t, series, c)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("verdicts differ:\n%+v\n%+v", first, second)
	}
}

func TestEvaluateDoesNotMutateSeries(t *testing.T) {
	series := []float64{0.5, 0.3, 0.4, 0.3, 0.3}
	orig := append([]float64(nil), series...)
	mustEvaluate(t, series, cfg(MetricLogLoss, 2, 0))
	if !reflect.DeepEqual(series, orig) {
		t.Fatalf("series mutated: %v", series)
	}
}

// #endregion property-tests

// #region edge-case-tests
func TestEvaluateTieCountsAsNonImproving(t *testing.T) {
	// improvement == (1.0 - 0.5) / 1.0 == tolerance
	v := mustEvaluate(t, []float64{1.0, 0.5}, cfg(MetricLogLoss, 1, 0.5))
	if v.Outcome != OutcomeStopped {
		t.Fatalf("expected tie to count as non-improving, got %s", v.Outcome)
	}
	if *v.StoppingIteration != 1 {
		t.Fatalf("expected stop at 1, got %d", *v.StoppingIteration)
	}
}

func TestEvaluateZeroToleranceNeedsStrictNonImprovement(t *testing.T) {
	series := []float64{1.0, 0.999, 0.998, 0.997, 0.996, 0.995}
	v := mustEvaluate(t, series, cfg(MetricLogLoss, 2, 0))
	if v.Outcome != OutcomeNotStopped {
		t.Fatalf("any improvement should reset at tolerance 0, got %s", v.Outcome)
	}

	series = []float64{1.0, 0.9, 0.9, 0.9}
	v = mustEvaluate(t, series, cfg(MetricLogLoss, 2, 0))
	if v.Outcome != OutcomeStopped {
		t.Fatalf("expected flat series to stop at tolerance 0, got %s", v.Outcome)
	}
}

func TestEvaluateImprovementResetsStreak(t *testing.T) {
	// one flat window, a big improvement at 4, then flat again
	series := []float64{1.0, 1.0, 1.0, 1.0, 0.5, 0.5, 0.5, 0.5}
	v := mustEvaluate(t, series, cfg(MetricLogLoss, 3, 0.01))
	if v.Outcome != OutcomeStopped {
		t.Fatalf("expected stopped, got %s", v.Outcome)
	}
	if *v.StoppingIteration != 7 {
		t.Fatalf("expected the reset to push the stop to 7, got %d", *v.StoppingIteration)
	}
}

func TestEvaluateZeroRunningBestUsesAbsoluteImprovement(t *testing.T) {
	v := mustEvaluate(t, []float64{0, 0, 0}, cfg(MetricR2, 1, 0))
	if v.Outcome != OutcomeStopped || *v.StoppingIteration != 1 {
		t.Fatalf("expected stop at 1, got %s %v", v.Outcome, v.StoppingIteration)
	}

	v = mustEvaluate(t, []float64{0, 0.5, 0.6}, cfg(MetricR2, 1, 0.1))
	if v.Checks[0].Improvement != 0.5 {
		t.Fatalf("expected absolute improvement 0.5, got %f", v.Checks[0].Improvement)
	}
}

func TestEvaluateNonFiniteIsIndeterminate(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		v := mustEvaluate(t, []float64{0.9, bad, 0.8, 0.8}, cfg(MetricLogLoss, 1, 0))
		if v.Outcome != OutcomeIndeterminate {
			t.Fatalf("expected indeterminate for %v, got %s", bad, v.Outcome)
		}
	}
}

func TestEvaluateInvalidConfiguration(t *testing.T) {
	cases := []Config{
		cfg(MetricLogLoss, -1, 0.01),
		cfg(MetricLogLoss, 0, 0.01),
		cfg(MetricLogLoss, 3, -0.01),
		cfg(MetricLogLoss, 3, math.NaN()),
		cfg(Metric("accuracy"), 3, 0.01),
	}
	for _, c := range cases {
		_, err := Evaluate([]float64{1, 2, 3, 4}, c)
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("config %+v: expected ErrInvalidConfiguration, got %v", c, err)
		}
		if _, err := NewEvaluator(c); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("NewEvaluator %+v: expected ErrInvalidConfiguration, got %v", c, err)
		}
	}
}

// #endregion edge-case-tests

// #region evaluator-tests
func TestEvaluatorMatchesEvaluate(t *testing.T) {
	c := DefaultConfig()
	e, err := NewEvaluator(c)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	series := []float64{0.9, 0.8, 0.81, 0.81, 0.81, 0.81}
	want := mustEvaluate(t, series, c)
	if got := e.Evaluate(series); !reflect.DeepEqual(got, want) {
		t.Fatalf("evaluator verdict differs:\n%+v\n%+v", got, want)
	}
	if e.Config() != c {
		t.Fatal("Config() should return the validated policy")
	}
}

// #endregion evaluator-tests

// #region expect-tests
func TestExpectKeepsDisabledDistinctFromNoStop(t *testing.T) {
	disabled := Verdict{Outcome: OutcomeDisabled}
	notStopped := Verdict{Outcome: OutcomeNotStopped}

	if ok, _ := Expect(disabled, ExpectNoStop); ok {
		t.Fatal("disabled must not satisfy no_stop")
	}
	if ok, _ := Expect(notStopped, ExpectDisabled); ok {
		t.Fatal("not_stopped must not satisfy disabled")
	}
	if ok, _ := Expect(disabled, ExpectDisabled); !ok {
		t.Fatal("disabled should satisfy disabled")
	}
	if ok, _ := Expect(notStopped, ExpectNoStop); !ok {
		t.Fatal("not_stopped should satisfy no_stop")
	}
}

func TestExpectIndeterminateNeverMatches(t *testing.T) {
	v := Verdict{Outcome: OutcomeIndeterminate, Reason: "too short"}
	for _, e := range []Expectation{ExpectStop, ExpectNoStop, ExpectDisabled} {
		if ok, _ := Expect(v, e); ok {
			t.Fatalf("indeterminate matched %s", e)
		}
	}
}

func TestParseExpectation(t *testing.T) {
	for in, want := range map[string]Expectation{"stop": ExpectStop, "No-Stop": ExpectNoStop, "disabled": ExpectDisabled} {
		got, err := ParseExpectation(in)
		if err != nil || got != want {
			t.Fatalf("ParseExpectation(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseExpectation("maybe"); err == nil {
		t.Fatal("expected error for unknown expectation")
	}
}

// #endregion expect-tests

// #region metric-tests
func TestParseMetric(t *testing.T) {
	cases := map[string]Metric{
		"logloss":              MetricLogLoss,
		"Logloss":              MetricLogLoss,
		"deviance":             MetricDeviance,
		"RMSE":                 MetricRMSE,
		"r2":                   MetricR2,
		"AUC":                  MetricAUC,
		"Classification Error": MetricClassError,
	}
	for in, want := range cases {
		got, err := ParseMetric(in)
		if err != nil {
			t.Fatalf("ParseMetric(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseMetric(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseMetric("accuracy"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestHigherIsBetter(t *testing.T) {
	for _, m := range []Metric{MetricR2, MetricAUC, MetricPRAUC, MetricLift} {
		if !m.HigherIsBetter() {
			t.Fatalf("%s should be higher-is-better", m)
		}
	}
	for _, m := range []Metric{MetricLogLoss, MetricDeviance, MetricRMSE, MetricMAE, MetricClassError} {
		if m.HigherIsBetter() {
			t.Fatalf("%s should be lower-is-better", m)
		}
	}
}

// #endregion metric-tests
