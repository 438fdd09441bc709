package stopping

import (
	"errors"
	"fmt"
	"strings"
)

// #region metric
// Metric enumerates the scoring-history metrics early stopping can monitor.
type Metric string

const (
	MetricLogLoss    Metric = "logloss"
	MetricDeviance   Metric = "deviance"
	MetricRMSE       Metric = "rmse"
	MetricR2         Metric = "r2"
	MetricMAE        Metric = "mae"
	MetricAUC        Metric = "auc"
	MetricPRAUC      Metric = "pr_auc"
	MetricLift       Metric = "lift"
	MetricClassError Metric = "classification_error"
)

var knownMetrics = map[Metric]bool{
	MetricLogLoss:    false,
	MetricDeviance:   false,
	MetricRMSE:       false,
	MetricR2:         true,
	MetricMAE:        false,
	MetricAUC:        true,
	MetricPRAUC:      true,
	MetricLift:       true,
	MetricClassError: false,
}

// ParseMetric resolves a metric name case-insensitively. Spaces and hyphens
// are treated as underscores, so "Classification Error" parses.
func ParseMetric(name string) (Metric, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	m := Metric(norm)
	if _, ok := knownMetrics[m]; !ok {
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidConfiguration, name)
	}
	return m, nil
}

// HigherIsBetter reports whether larger values of m are improvements.
func (m Metric) HigherIsBetter() bool {
	return knownMetrics[m]
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	_, ok := knownMetrics[m]
	return ok
}

// #endregion metric

// #region errors
// ErrInvalidConfiguration is returned for malformed stopping configs.
var ErrInvalidConfiguration = errors.New("invalid stopping configuration")

// #endregion errors

// #region config
// Config is an immutable early-stopping policy.
type Config struct {
	Metric         Metric  `json:"metric" yaml:"metric"`
	StoppingRounds int     `json:"stopping_rounds" yaml:"stopping_rounds"`
	Tolerance      float64 `json:"tolerance" yaml:"tolerance"`
	// ExhaustiveSearch disables early stopping (lambda search on the server):
	// the early-stop scoring history is expected to be empty.
	ExhaustiveSearch bool `json:"exhaustive_search" yaml:"exhaustive_search"`
}

// DefaultConfig mirrors the settings the GLM early-stop checks run with.
func DefaultConfig() Config {
	return Config{
		Metric:         MetricLogLoss,
		StoppingRounds: 3,
		Tolerance:      0.01,
	}
}

// HigherIsBetter is derived from the metric.
func (c Config) HigherIsBetter() bool {
	return c.Metric.HigherIsBetter()
}

// #endregion config

// #region outcome
// Outcome classifies a verdict.
type Outcome string

const (
	OutcomeStopped       Outcome = "stopped"
	OutcomeNotStopped    Outcome = "not_stopped"
	OutcomeIndeterminate Outcome = "indeterminate"
	OutcomeDisabled      Outcome = "disabled"
	// OutcomeUnexpectedHistory means early stopping was disabled by
	// configuration but the run still recorded an early-stop history.
	OutcomeUnexpectedHistory Outcome = "unexpected_history"
)

// #endregion outcome

// #region window-check
// WindowCheck records the comparison made for the window ending at Iteration.
type WindowCheck struct {
	Iteration   int     `json:"iteration"`
	WindowBest  float64 `json:"window_best"`
	RunningBest float64 `json:"running_best"`
	Improvement float64 `json:"improvement"`
	Improved    bool    `json:"improved"`
}

// #endregion window-check

// #region verdict
// Verdict is the output of Evaluate.
type Verdict struct {
	Outcome          Outcome `json:"outcome"`
	StoppedCorrectly bool    `json:"stopped_correctly"`
	// StoppingIteration is the zero-based index of the entry at which the
	// policy triggered. Nil unless Outcome is OutcomeStopped.
	StoppingIteration *int `json:"stopping_iteration,omitempty"`
	// Overrun counts entries recorded after StoppingIteration.
	Overrun   int           `json:"overrun"`
	BestValue float64       `json:"best_value"`
	Reason    string        `json:"reason"`
	Checks    []WindowCheck `json:"checks,omitempty"`
}

// #endregion verdict

// #region expectation
// Expectation is what a caller believes a run should have done.
type Expectation string

const (
	ExpectStop     Expectation = "stop"
	ExpectNoStop   Expectation = "no_stop"
	ExpectDisabled Expectation = "disabled"
)

// ParseExpectation accepts "stop", "no_stop" / "no-stop" and "disabled".
func ParseExpectation(s string) (Expectation, error) {
	switch e := Expectation(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")); e {
	case ExpectStop, ExpectNoStop, ExpectDisabled:
		return e, nil
	}
	return "", fmt.Errorf("unknown expectation %q", s)
}

// #endregion expectation
