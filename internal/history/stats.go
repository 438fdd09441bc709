package history

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the finite values of a metric series.
type Summary struct {
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	First   float64 `json:"first"`
	Last    float64 `json:"last"`
}

// Summarize skips NaN and infinite values; they are counted as Missing.
// StdDev is zero for fewer than two values.
func Summarize(series []float64) Summary {
	finite := make([]float64, 0, len(series))
	for _, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
	}
	s := Summary{Count: len(finite), Missing: len(series) - len(finite)}
	if len(finite) == 0 {
		return s
	}
	s.Min = floats.Min(finite)
	s.Max = floats.Max(finite)
	s.Mean = stat.Mean(finite, nil)
	if len(finite) > 1 {
		s.StdDev = stat.StdDev(finite, nil)
	}
	s.First = finite[0]
	s.Last = finite[len(finite)-1]
	return s
}
