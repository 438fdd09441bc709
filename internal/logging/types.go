package logging

import (
	"time"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region verdict-entry
// VerdictEntry is a single row in the verdict_log table.
type VerdictEntry struct {
	RunID             string // empty for ad-hoc series
	Metric            stopping.Metric
	StoppingRounds    int // 0 on rows logged before the policy was recorded
	Tolerance         float64
	ExhaustiveSearch  bool
	Column            string // empty when the metric's default column was used
	Outcome           stopping.Outcome
	StoppingIteration *int
	Reason            string
	ChecksJSON        string
	CreatedAt         time.Time
}

// Policy is the stopping config the verdict was evaluated under. ok is false
// when the entry carries only its metric.
func (e VerdictEntry) Policy() (cfg stopping.Config, ok bool) {
	if e.StoppingRounds <= 0 {
		return stopping.Config{Metric: e.Metric}, false
	}
	return stopping.Config{
		Metric:           e.Metric,
		StoppingRounds:   e.StoppingRounds,
		Tolerance:        e.Tolerance,
		ExhaustiveSearch: e.ExhaustiveSearch,
	}, true
}

// #endregion verdict-entry
