package history

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// #region read
// LoadCSV reads a scoring history exported as CSV.
func LoadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, errors.Wrapf(err, "open history %s", path)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return Table{}, errors.Wrapf(err, "read history %s", path)
	}
	return t, nil
}

// ReadCSV parses a header row followed by one row per scored iteration.
// Timestamp, Duration and Evaluation_Iterations are optional; an unnamed
// leading index column is skipped. Empty cells and "NaN" read as NaN.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return Table{Name: TableName}, nil
	}
	if err != nil {
		return Table{}, errors.Wrap(err, "read header")
	}

	t := Table{Name: TableName}
	tsIdx, durIdx, iterIdx := -1, -1, -1
	var metricIdx []int
	for i, h := range header {
		h = strings.TrimSpace(h)
		switch normalizeHeader(h) {
		case "":
			continue
		case normalizeHeader(HeaderTimestamp):
			tsIdx = i
		case normalizeHeader(HeaderDuration):
			durIdx = i
		case normalizeHeader(HeaderIteration), "iterations", "iteration":
			iterIdx = i
		default:
			t.Columns = append(t.Columns, h)
			metricIdx = append(metricIdx, i)
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, errors.Wrapf(err, "line %d", line)
		}

		row := Row{Iteration: len(t.Rows)}
		if tsIdx >= 0 && strings.TrimSpace(rec[tsIdx]) != "" {
			row.Timestamp, err = time.Parse(TimestampLayout, strings.TrimSpace(rec[tsIdx]))
			if err != nil {
				return Table{}, errors.Wrapf(err, "line %d: timestamp", line)
			}
		}
		if durIdx >= 0 {
			row.Duration, err = parseDuration(rec[durIdx])
			if err != nil {
				return Table{}, errors.Wrapf(err, "line %d: duration", line)
			}
		}
		if iterIdx >= 0 && strings.TrimSpace(rec[iterIdx]) != "" {
			row.Iteration, err = strconv.Atoi(strings.TrimSpace(rec[iterIdx]))
			if err != nil {
				return Table{}, errors.Wrapf(err, "line %d: iteration", line)
			}
		}
		for _, idx := range metricIdx {
			v, err := parseValue(rec[idx])
			if err != nil {
				return Table{}, errors.Wrapf(err, "line %d: column %q", line, header[idx])
			}
			row.Values = append(row.Values, v)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseDuration accepts Go durations ("1.5s") and the server's pretty form
// ("0.158 sec", "1 min 2.345 sec").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return 0, errors.Errorf("unrecognised duration %q", s)
	}
	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		n, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, errors.Errorf("unrecognised duration %q", s)
		}
		var unit time.Duration
		switch fields[i+1] {
		case "ms", "msec", "msecs":
			unit = time.Millisecond
		case "s", "sec", "secs":
			unit = time.Second
		case "min", "mins":
			unit = time.Minute
		case "hr", "hrs", "hour", "hours":
			unit = time.Hour
		case "day", "days":
			unit = 24 * time.Hour
		default:
			return 0, errors.Errorf("unrecognised duration unit %q", fields[i+1])
		}
		total += time.Duration(n * float64(unit))
	}
	return total, nil
}

// #endregion read

// #region write
// WriteCSV writes t in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers()); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, 3+len(r.Values))
		ts := ""
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.UTC().Format(TimestampLayout)
		}
		rec = append(rec, ts, r.Duration.String(), strconv.Itoa(r.Iteration))
		for _, v := range r.Values {
			rec = append(rec, formatValue(v))
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrapf(err, "write row %d", r.Iteration)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// #endregion write
