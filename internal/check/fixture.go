package check

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region fixture-types

// Fixture is the top-level JSON structure for an early-stop check fixture.
type Fixture struct {
	Description       string                    `json:"description"`
	Scenarios         []FixtureScenario         `json:"scenarios"`
	CoefficientChecks []FixtureCoefficientCheck `json:"coefficient_checks"`

	dir string
}

// FixtureScenario is one series plus the policy and the expected outcome.
// The series is either inline or read from a scoring-history CSV next to
// the fixture file.
type FixtureScenario struct {
	Name             string    `json:"name"`
	Metric           string    `json:"metric"`
	StoppingRounds   int       `json:"stopping_rounds"`
	Tolerance        float64   `json:"tolerance"`
	ExhaustiveSearch bool      `json:"exhaustive_search"`
	Series           []float64 `json:"series"`
	HistoryCSV       string    `json:"history_csv"`
	// Column defaults to the stopping series for Metric (validation when
	// present, training otherwise).
	Column          string `json:"column"`
	Expect          string `json:"expect"`
	ExpectIteration *int   `json:"expect_iteration"`
}

// FixtureCoefficientCheck compares two coefficient tables.
type FixtureCoefficientCheck struct {
	Name        string             `json:"name"`
	Left        map[string]float64 `json:"left"`
	Right       map[string]float64 `json:"right"`
	Tolerance   float64            `json:"tolerance"`
	ExpectEqual bool               `json:"expect_equal"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. Relative history_csv
// paths resolve against the fixture's directory.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return &f, nil
}

// ToScenarios converts every fixture scenario, stopping at the first that
// cannot be resolved.
func (f *Fixture) ToScenarios() ([]Scenario, error) {
	out := make([]Scenario, 0, len(f.Scenarios))
	for i := range f.Scenarios {
		s, err := f.Scenarios[i].ToScenario(f.dir)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ToScenario converts a FixtureScenario to a runnable Scenario. The metric
// is not validated here so that invalid policies surface as results.
func (fs *FixtureScenario) ToScenario(dir string) (Scenario, error) {
	want, err := stopping.ParseExpectation(fs.Expect)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario %q: %w", fs.Name, err)
	}
	cfg := stopping.Config{
		Metric:           stopping.Metric(fs.Metric),
		StoppingRounds:   fs.StoppingRounds,
		Tolerance:        fs.Tolerance,
		ExhaustiveSearch: fs.ExhaustiveSearch,
	}
	if m, err := stopping.ParseMetric(fs.Metric); err == nil {
		cfg.Metric = m
	}

	series := fs.Series
	if fs.HistoryCSV != "" {
		series, err = fs.loadSeries(dir, cfg.Metric)
		if err != nil {
			return Scenario{}, fmt.Errorf("scenario %q: %w", fs.Name, err)
		}
	}
	return Scenario{
		Name:            fs.Name,
		Config:          cfg,
		Series:          series,
		Expect:          want,
		ExpectIteration: fs.ExpectIteration,
	}, nil
}

func (fs *FixtureScenario) loadSeries(dir string, m stopping.Metric) ([]float64, error) {
	path := fs.HistoryCSV
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	tbl, err := history.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if fs.Column != "" {
		return tbl.Column(fs.Column)
	}
	s, _, err := tbl.StoppingSeries(m)
	return s, err
}

// #endregion fixture-loader
