package history

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// TableName is the name the server gives the early-stop history.
const TableName = "Scoring History"

// #region build
// Build lays out the scoring history for out. Validation and
// cross-validation columns appear only when those datasets were scored.
// An output with no training rows yields a table with zero rows.
func Build(out Output) Table {
	datasets := []Dataset{Training}
	if len(out.Validation) > 0 {
		datasets = append(datasets, Validation)
	}
	if len(out.CrossValidation) > 0 {
		datasets = append(datasets, CrossValidation)
	}

	var cols []string
	for _, d := range datasets {
		cols = append(cols, columnsFor(d, out.Category)...)
	}
	t := Table{Name: TableName, Columns: cols}

	for i, sk := range out.Training {
		row := Row{Iteration: i}
		if i < len(out.ScoredAt) {
			row.Timestamp = out.ScoredAt[i]
			if !out.StartTime.IsZero() {
				row.Duration = out.ScoredAt[i].Sub(out.StartTime)
			}
		}
		row.Values = append(row.Values, valuesFor(sk, out.Category)...)
		if len(out.Validation) > 0 {
			row.Values = append(row.Values, valuesFor(keeperAt(out.Validation, i), out.Category)...)
		}
		if len(out.CrossValidation) > 0 {
			row.Values = append(row.Values, valuesFor(keeperAt(out.CrossValidation, i), out.Category)...)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func keeperAt(ks []ScoreKeeper, i int) ScoreKeeper {
	if i < len(ks) {
		return ks[i]
	}
	return EmptyScoreKeeper()
}

// columnsFor and valuesFor must stay in the same order.
func columnsFor(d Dataset, c Category) []string {
	p := string(d) + " "
	cols := []string{p + "RMSE"}
	if c == Regression {
		cols = append(cols, p+"Deviance", p+"MAE", p+"r2")
	}
	if c.IsClassifier() {
		cols = append(cols, p+"LogLoss", p+"r2")
	}
	if c == Binomial {
		cols = append(cols, p+"AUC", p+"pr_auc", p+"Lift")
	}
	if c.IsClassifier() {
		cols = append(cols, p+"Classification Error")
	}
	return cols
}

func valuesFor(sk ScoreKeeper, c Category) []float64 {
	vals := []float64{sk.RMSE}
	if c == Regression {
		vals = append(vals, sk.Deviance, sk.MAE, sk.R2)
	}
	if c.IsClassifier() {
		vals = append(vals, sk.LogLoss, sk.R2)
	}
	if c == Binomial {
		vals = append(vals, sk.AUC, sk.PRAUC, sk.Lift)
	}
	if c.IsClassifier() {
		vals = append(vals, sk.ClassError)
	}
	return vals
}

// #endregion build

// #region access
// Len is the number of scored iterations.
func (t Table) Len() int {
	return len(t.Rows)
}

// Headers returns every column header including the leading fixed ones.
func (t Table) Headers() []string {
	return append([]string{HeaderTimestamp, HeaderDuration, HeaderIteration}, t.Columns...)
}

// Column extracts one metric column by header. Matching ignores case and
// treats underscores as spaces, so "Validation Logloss" finds
// "Validation LogLoss". "Evaluation_Iterations" returns the iteration numbers.
func (t Table) Column(header string) ([]float64, error) {
	want := normalizeHeader(header)
	if want == normalizeHeader(HeaderIteration) {
		out := make([]float64, len(t.Rows))
		for i, r := range t.Rows {
			out[i] = float64(r.Iteration)
		}
		return out, nil
	}
	for idx, c := range t.Columns {
		if normalizeHeader(c) != want {
			continue
		}
		out := make([]float64, len(t.Rows))
		for i, r := range t.Rows {
			if idx >= len(r.Values) {
				return nil, errors.Errorf("row %d has %d values, column %q is at %d", i, len(r.Values), c, idx)
			}
			out[i] = r.Values[idx]
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrColumnNotFound, "column %q", header)
}

// Series resolves the column holding metric m scored on dataset d.
func (t Table) Series(d Dataset, m stopping.Metric) ([]float64, error) {
	h, err := MetricHeader(d, m)
	if err != nil {
		return nil, err
	}
	return t.Column(h)
}

// StoppingSeries picks the series early stopping monitors for m: the
// validation column when the run was validated, the training column otherwise.
func (t Table) StoppingSeries(m stopping.Metric) ([]float64, Dataset, error) {
	for _, d := range []Dataset{Validation, Training} {
		s, err := t.Series(d, m)
		if err == nil {
			return s, d, nil
		}
		if !errors.Is(err, ErrColumnNotFound) {
			return nil, "", err
		}
	}
	return nil, "", errors.Wrapf(ErrColumnNotFound, "no %s column", m)
}

// MetricHeader is the column header for m scored on d.
func MetricHeader(d Dataset, m stopping.Metric) (string, error) {
	var name string
	switch m {
	case stopping.MetricRMSE:
		name = "RMSE"
	case stopping.MetricDeviance:
		name = "Deviance"
	case stopping.MetricMAE:
		name = "MAE"
	case stopping.MetricR2:
		name = "r2"
	case stopping.MetricLogLoss:
		name = "LogLoss"
	case stopping.MetricAUC:
		name = "AUC"
	case stopping.MetricPRAUC:
		name = "pr_auc"
	case stopping.MetricLift:
		name = "Lift"
	case stopping.MetricClassError:
		name = "Classification Error"
	default:
		return "", errors.Errorf("no history column for metric %q", m)
	}
	return string(d) + " " + name, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.ReplaceAll(h, "_", " "))
	return strings.Join(strings.Fields(h), " ")
}

// #endregion access
