package history

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
)

// #region read-output
// LoadOutput reads a scoring output saved as JSON.
func LoadOutput(path string) (Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return Output{}, errors.Wrapf(err, "open output %s", path)
	}
	defer f.Close()

	out, err := ReadOutput(f)
	if err != nil {
		return Output{}, errors.Wrapf(err, "read output %s", path)
	}
	return out, nil
}

// ReadOutput decodes an Output. The category is required; metrics that are
// absent or null read as NaN.
func ReadOutput(r io.Reader) (Output, error) {
	var out Output
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Output{}, errors.Wrap(err, "decode output")
	}
	c, err := ParseCategory(string(out.Category))
	if err != nil {
		return Output{}, err
	}
	out.Category = c
	if len(out.ScoredAt) > 0 && len(out.ScoredAt) != len(out.Training) {
		return Output{}, errors.Errorf("%d scored_at times for %d training rows", len(out.ScoredAt), len(out.Training))
	}
	return out, nil
}

// UnmarshalJSON leaves metrics missing from b unset.
func (sk *ScoreKeeper) UnmarshalJSON(b []byte) error {
	var raw struct {
		RMSE       *float64 `json:"rmse"`
		Deviance   *float64 `json:"deviance"`
		MAE        *float64 `json:"mae"`
		R2         *float64 `json:"r2"`
		LogLoss    *float64 `json:"logloss"`
		AUC        *float64 `json:"auc"`
		PRAUC      *float64 `json:"pr_auc"`
		Lift       *float64 `json:"lift"`
		ClassError *float64 `json:"classification_error"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*sk = ScoreKeeper{
		RMSE:       orNaN(raw.RMSE),
		Deviance:   orNaN(raw.Deviance),
		MAE:        orNaN(raw.MAE),
		R2:         orNaN(raw.R2),
		LogLoss:    orNaN(raw.LogLoss),
		AUC:        orNaN(raw.AUC),
		PRAUC:      orNaN(raw.PRAUC),
		Lift:       orNaN(raw.Lift),
		ClassError: orNaN(raw.ClassError),
	}
	return nil
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// #endregion read-output
