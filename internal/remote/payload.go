package remote

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// Payload fields. Requests carry {"run_id"}; GetHistory answers
// {"run": {...}, "history": {"name", "columns", "rows": [{"timestamp",
// "duration_ns", "iteration", "values"}]}}; GetCoefficients answers
// {"run_id", "coefficients": {name: value}}. NaN metrics travel as null.

// #region types
// RunHistory is a run's metadata together with its scoring history.
type RunHistory struct {
	Run   store.Run
	Table history.Table
}

// #endregion types

// #region request
func runIDRequest(runID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id": structpb.NewStringValue(runID),
	}}
}

func requestRunID(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()["run_id"]
	if !ok {
		return "", fmt.Errorf("missing run_id")
	}
	id, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || id.StringValue == "" {
		return "", fmt.Errorf("run_id must be a non-empty string")
	}
	return id.StringValue, nil
}

// #endregion request

// #region encode
func encodeRunHistory(rh RunHistory) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run":     structpb.NewStructValue(encodeRun(rh.Run)),
		"history": structpb.NewStructValue(encodeTable(rh.Table)),
	}}
}

func encodeRun(r store.Run) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":            structpb.NewStringValue(r.RunID),
		"algorithm":         structpb.NewStringValue(r.Algorithm),
		"family":            structpb.NewStringValue(r.Family),
		"category":          structpb.NewStringValue(string(r.Category)),
		"metric":            structpb.NewStringValue(string(r.Stopping.Metric)),
		"stopping_rounds":   structpb.NewNumberValue(float64(r.Stopping.StoppingRounds)),
		"tolerance":         structpb.NewNumberValue(r.Stopping.Tolerance),
		"exhaustive_search": structpb.NewBoolValue(r.Stopping.ExhaustiveSearch),
		"created_at":        structpb.NewStringValue(r.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}}
}

func encodeTable(t history.Table) *structpb.Struct {
	cols := make([]*structpb.Value, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = structpb.NewStringValue(c)
	}
	rows := make([]*structpb.Value, len(t.Rows))
	for i, r := range t.Rows {
		ts := ""
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		rows[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"timestamp":   structpb.NewStringValue(ts),
			"duration_ns": structpb.NewNumberValue(float64(r.Duration)),
			"iteration":   structpb.NewNumberValue(float64(r.Iteration)),
			"values":      structpb.NewListValue(encodeNumbers(r.Values)),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":    structpb.NewStringValue(t.Name),
		"columns": structpb.NewListValue(&structpb.ListValue{Values: cols}),
		"rows":    structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}
}

func encodeNumbers(vals []float64) *structpb.ListValue {
	out := make([]*structpb.Value, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = structpb.NewNullValue()
			continue
		}
		out[i] = structpb.NewNumberValue(v)
	}
	return &structpb.ListValue{Values: out}
}

func encodeCoefficients(runID string, coefs map[string]float64) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(coefs))
	for name, v := range coefs {
		if math.IsNaN(v) {
			fields[name] = structpb.NewNullValue()
			continue
		}
		fields[name] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id":       structpb.NewStringValue(runID),
		"coefficients": structpb.NewStructValue(&structpb.Struct{Fields: fields}),
	}}
}

// #endregion encode

// #region decode
func decodeRunHistory(s *structpb.Struct) (RunHistory, error) {
	runS := s.GetFields()["run"].GetStructValue()
	if runS == nil {
		return RunHistory{}, fmt.Errorf("response has no run")
	}
	histS := s.GetFields()["history"].GetStructValue()
	if histS == nil {
		return RunHistory{}, fmt.Errorf("response has no history")
	}
	run, err := decodeRun(runS)
	if err != nil {
		return RunHistory{}, err
	}
	tbl, err := decodeTable(histS)
	if err != nil {
		return RunHistory{}, err
	}
	return RunHistory{Run: run, Table: tbl}, nil
}

func decodeRun(s *structpb.Struct) (store.Run, error) {
	f := s.GetFields()
	r := store.Run{
		RunID:     f["run_id"].GetStringValue(),
		Algorithm: f["algorithm"].GetStringValue(),
		Family:    f["family"].GetStringValue(),
		Category:  history.Category(f["category"].GetStringValue()),
		Stopping: stopping.Config{
			Metric:           stopping.Metric(f["metric"].GetStringValue()),
			StoppingRounds:   int(f["stopping_rounds"].GetNumberValue()),
			Tolerance:        f["tolerance"].GetNumberValue(),
			ExhaustiveSearch: f["exhaustive_search"].GetBoolValue(),
		},
	}
	if r.RunID == "" {
		return store.Run{}, fmt.Errorf("run has no run_id")
	}
	if ts := f["created_at"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return store.Run{}, fmt.Errorf("run created_at: %w", err)
		}
		r.CreatedAt = t
	}
	return r, nil
}

func decodeTable(s *structpb.Struct) (history.Table, error) {
	f := s.GetFields()
	t := history.Table{Name: f["name"].GetStringValue()}
	for _, c := range f["columns"].GetListValue().GetValues() {
		t.Columns = append(t.Columns, c.GetStringValue())
	}
	for i, rv := range f["rows"].GetListValue().GetValues() {
		rs := rv.GetStructValue()
		if rs == nil {
			return history.Table{}, fmt.Errorf("history row %d is not an object", i)
		}
		rf := rs.GetFields()
		row := history.Row{
			Duration:  time.Duration(rf["duration_ns"].GetNumberValue()),
			Iteration: int(rf["iteration"].GetNumberValue()),
			Values:    decodeNumbers(rf["values"].GetListValue()),
		}
		if ts := rf["timestamp"].GetStringValue(); ts != "" {
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return history.Table{}, fmt.Errorf("history row %d timestamp: %w", i, err)
			}
			row.Timestamp = parsed
		}
		if len(row.Values) != len(t.Columns) {
			return history.Table{}, fmt.Errorf("history row %d has %d values for %d columns", i, len(row.Values), len(t.Columns))
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func decodeNumbers(l *structpb.ListValue) []float64 {
	out := make([]float64, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			out = append(out, math.NaN())
			continue
		}
		out = append(out, v.GetNumberValue())
	}
	return out
}

func decodeCoefficients(s *structpb.Struct) map[string]float64 {
	fields := s.GetFields()["coefficients"].GetStructValue().GetFields()
	out := make(map[string]float64, len(fields))
	for name, v := range fields {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
			out[name] = math.NaN()
			continue
		}
		out[name] = v.GetNumberValue()
	}
	return out
}

// #endregion decode
