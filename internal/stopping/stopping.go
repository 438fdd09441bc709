package stopping

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// #region validate
// Validate checks the policy before any series is looked at.
func (c Config) Validate() error {
	if !c.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfiguration, c.Metric)
	}
	if c.StoppingRounds <= 0 {
		return fmt.Errorf("%w: stopping_rounds must be positive, got %d", ErrInvalidConfiguration, c.StoppingRounds)
	}
	if math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) || c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be a non-negative number, got %v", ErrInvalidConfiguration, c.Tolerance)
	}
	return nil
}

// #endregion validate

// #region evaluate
// Evaluate decides whether the policy in config triggers on series, and at
// which iteration. The running best starts from the first StoppingRounds
// entries; every later entry closes a window of StoppingRounds entries whose
// best is compared to the running best by relative improvement. A window
// improving by no more than Tolerance is non-improving, and StoppingRounds
// consecutive non-improving windows stop the run.
//
// A series too short to evaluate, or holding non-finite values, yields an
// indeterminate verdict rather than an error.
func Evaluate(series []float64, config Config) (Verdict, error) {
	if err := config.Validate(); err != nil {
		return Verdict{}, err
	}
	return evaluate(series, config), nil
}

func evaluate(series []float64, config Config) Verdict {
	if config.ExhaustiveSearch {
		if len(series) == 0 {
			return Verdict{
				Outcome: OutcomeDisabled,
				Reason:  "early stopping disabled by exhaustive search",
			}
		}
		return Verdict{
			Outcome: OutcomeUnexpectedHistory,
			Reason:  fmt.Sprintf("early stopping disabled by exhaustive search but %d history entries recorded", len(series)),
		}
	}

	rounds := config.StoppingRounds
	if len(series) < rounds+1 {
		return Verdict{
			Outcome: OutcomeIndeterminate,
			Reason:  fmt.Sprintf("series has %d entries, need at least %d", len(series), rounds+1),
		}
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Verdict{
				Outcome: OutcomeIndeterminate,
				Reason:  fmt.Sprintf("non-finite %s value at iteration %d", config.Metric, i),
			}
		}
	}

	higher := config.HigherIsBetter()
	best := windowBest(series[:rounds], higher)
	checks := make([]WindowCheck, 0, len(series)-rounds)
	streak := 0

	for i := rounds; i < len(series); i++ {
		wb := windowBest(series[i-rounds+1:i+1], higher)
		imp := improvement(wb, best, higher)
		improved := imp > config.Tolerance
		checks = append(checks, WindowCheck{
			Iteration:   i,
			WindowBest:  wb,
			RunningBest: best,
			Improvement: imp,
			Improved:    improved,
		})

		if improved {
			streak = 0
		} else {
			streak++
		}
		if isBetter(series[i], best, higher) {
			best = series[i]
		}

		if streak >= rounds {
			stop := i
			return Verdict{
				Outcome:           OutcomeStopped,
				StoppedCorrectly:  true,
				StoppingIteration: &stop,
				Overrun:           len(series) - 1 - i,
				BestValue:         best,
				Reason: fmt.Sprintf("%d consecutive windows improved %s by at most %g",
					rounds, config.Metric, config.Tolerance),
				Checks: checks,
			}
		}
	}

	return Verdict{
		Outcome:   OutcomeNotStopped,
		BestValue: best,
		Reason:    fmt.Sprintf("no run of %d non-improving windows in %d entries", rounds, len(series)),
		Checks:    checks,
	}
}

// #endregion evaluate

// #region evaluator
// Evaluator applies one validated policy to many series.
// Safe for concurrent use.
type Evaluator struct {
	config Config
}

// NewEvaluator validates config and returns an evaluator for it.
func NewEvaluator(config Config) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{config: config}, nil
}

// Config returns the policy the evaluator applies.
func (e *Evaluator) Config() Config {
	return e.config
}

// Evaluate runs the policy against series.
func (e *Evaluator) Evaluate(series []float64) Verdict {
	return evaluate(series, e.config)
}

// #endregion evaluator

// #region expect
// Expect reports whether v is what the caller expected. A run that never
// stopped matches ExpectNoStop only; a run with stopping disabled by
// configuration matches ExpectDisabled only. Indeterminate verdicts never match.
func Expect(v Verdict, want Expectation) (bool, string) {
	if v.Outcome == OutcomeIndeterminate {
		return false, "indeterminate: " + v.Reason
	}
	var ok bool
	switch want {
	case ExpectStop:
		ok = v.Outcome == OutcomeStopped
	case ExpectNoStop:
		ok = v.Outcome == OutcomeNotStopped
	case ExpectDisabled:
		ok = v.Outcome == OutcomeDisabled
	default:
		return false, fmt.Sprintf("unknown expectation %q", want)
	}
	if ok {
		return true, v.Reason
	}
	return false, fmt.Sprintf("expected %s, got %s: %s", want, v.Outcome, v.Reason)
}

// #endregion expect

// #region helpers
func windowBest(window []float64, higher bool) float64 {
	if higher {
		return floats.Max(window)
	}
	return floats.Min(window)
}

func isBetter(v, best float64, higher bool) bool {
	if higher {
		return v > best
	}
	return v < best
}

// improvement is relative to |runningBest|; a zero best falls back to the
// absolute difference.
func improvement(windowBest, runningBest float64, higher bool) float64 {
	diff := runningBest - windowBest
	if higher {
		diff = windowBest - runningBest
	}
	denom := math.Abs(runningBest)
	if denom == 0 {
		return diff
	}
	return diff / denom
}

// #endregion helpers
