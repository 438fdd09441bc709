package history

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// #region category
// Category is the model category the server reports; it decides which
// metric columns a scoring history carries.
type Category string

const (
	Regression  Category = "Regression"
	Binomial    Category = "Binomial"
	Multinomial Category = "Multinomial"
	Ordinal     Category = "Ordinal"
)

// ParseCategory is case-insensitive.
func ParseCategory(s string) (Category, error) {
	for _, c := range []Category{Regression, Binomial, Multinomial, Ordinal} {
		if strings.EqualFold(s, string(c)) {
			return c, nil
		}
	}
	return "", errors.Errorf("unknown model category %q", s)
}

// IsClassifier is true for every category but Regression.
func (c Category) IsClassifier() bool {
	return c == Binomial || c == Multinomial || c == Ordinal
}

// #endregion category

// #region dataset
// Dataset names the frame a row of metrics was scored on.
type Dataset string

const (
	Training        Dataset = "Training"
	Validation      Dataset = "Validation"
	CrossValidation Dataset = "Cross-Validation"
)

// #endregion dataset

// #region score-keeper
// ScoreKeeper holds the metrics scored on one dataset at one iteration.
// Metrics not computed for the model category are NaN.
type ScoreKeeper struct {
	RMSE       float64 `json:"rmse"`
	Deviance   float64 `json:"deviance"`
	MAE        float64 `json:"mae"`
	R2         float64 `json:"r2"`
	LogLoss    float64 `json:"logloss"`
	AUC        float64 `json:"auc"`
	PRAUC      float64 `json:"pr_auc"`
	Lift       float64 `json:"lift"`
	ClassError float64 `json:"classification_error"`
}

// EmptyScoreKeeper returns a keeper with every metric unset.
func EmptyScoreKeeper() ScoreKeeper {
	nan := math.NaN()
	return ScoreKeeper{nan, nan, nan, nan, nan, nan, nan, nan, nan}
}

// #endregion score-keeper

// #region output
// Output is the training-side record a scoring history is built from: one
// ScoreKeeper per scored iteration for each dataset that was scored.
type Output struct {
	Category  Category  `json:"category"`
	StartTime time.Time `json:"start_time"`
	// ScoredAt holds the wall-clock time of each training row.
	ScoredAt        []time.Time   `json:"scored_at,omitempty"`
	Training        []ScoreKeeper `json:"training"`
	Validation      []ScoreKeeper `json:"validation,omitempty"`
	CrossValidation []ScoreKeeper `json:"cross_validation,omitempty"`
}

// #endregion output

// #region table
// Row is one scored iteration.
type Row struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Iteration int           `json:"iteration"`
	Values    []float64     `json:"values"`
}

// Table is a scoring history: three fixed leading columns (timestamp,
// duration, iteration) followed by Columns, one value per column per row.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Fixed leading column headers.
const (
	HeaderTimestamp = "Timestamp"
	HeaderDuration  = "Duration"
	HeaderIteration = "Evaluation_Iterations"
)

// TimestampLayout is the timestamp format used in exported histories.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrColumnNotFound is returned when a header does not exist in a table.
var ErrColumnNotFound = errors.New("history column not found")

// #endregion table
