package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region import-cmd
type importOptions struct {
	runID        string
	algorithm    string
	family       string
	category     string
	coefficients string
	policy       policyFlags
}

func (a *app) newImportCmd() *cobra.Command {
	var o importOptions
	cmd := &cobra.Command{
		Use:   "import HISTORY",
		Short: "Store a scoring history (CSV, or JSON scoring output) as a run",
		Example: `  stopcheck import history.csv --algorithm glm --family multinomial --metric logloss --rounds 3 --tolerance 0.01
  stopcheck import lambda_search.csv --algorithm glm --exhaustive --coefficients coefs.csv
  stopcheck import scoring_output.json --algorithm gam --metric rmse --rounds 5`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runImport(cmd, args[0], o)
		},
	}
	cmd.Flags().StringVar(&o.runID, "run-id", "", "run id (default: generated)")
	cmd.Flags().StringVar(&o.algorithm, "algorithm", "glm", "algorithm that produced the history")
	cmd.Flags().StringVar(&o.family, "family", "", "model family")
	cmd.Flags().StringVar(&o.category, "category", "", "model category (default: from the JSON output, or inferred from the CSV columns)")
	cmd.Flags().StringVar(&o.coefficients, "coefficients", "", "coefficients CSV (name,value)")
	o.policy.register(cmd)
	return cmd
}

func (a *app) runImport(cmd *cobra.Command, path string, o importOptions) error {
	cfg, err := o.policy.resolve(cmd, a.cfg.Stopping)
	if err != nil {
		return err
	}
	tbl, cat, err := loadHistory(path)
	if err != nil {
		return err
	}
	if o.category != "" {
		if cat, err = history.ParseCategory(o.category); err != nil {
			return usageErr(err)
		}
	}

	var coefs map[string]float64
	if o.coefficients != "" {
		if coefs, err = loadCoefficients(o.coefficients); err != nil {
			return err
		}
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ImportRun(store.Run{
		RunID:     o.runID,
		Algorithm: o.algorithm,
		Family:    o.family,
		Category:  cat,
		Stopping:  cfg,
	}, tbl, coefs)
	if err != nil {
		return err
	}

	a.log.Info().Str("run_id", run.RunID).Int("rows", tbl.Len()).Int("coefficients", len(coefs)).
		Str("category", string(cat)).Msg("run imported")
	fmt.Fprintln(a.out, run.RunID)
	return nil
}

// #endregion import-cmd

// #region helpers
// loadHistory reads a CSV history, or a JSON scoring output (.json) that is
// laid out with history.Build. The category comes from the output, or is
// inferred from the CSV columns.
func loadHistory(path string) (history.Table, history.Category, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		out, err := history.LoadOutput(path)
		if err != nil {
			return history.Table{}, "", err
		}
		return history.Build(out), out.Category, nil
	}
	tbl, err := history.LoadCSV(path)
	if err != nil {
		return history.Table{}, "", err
	}
	return tbl, inferCategory(tbl), nil
}

// inferCategory guesses the model category from the metric columns present.
func inferCategory(t history.Table) history.Category {
	var hasLogLoss, hasAUC bool
	for _, c := range t.Columns {
		lc := strings.ToLower(c)
		switch {
		case strings.HasSuffix(lc, " auc"):
			hasAUC = true
		case strings.HasSuffix(lc, " logloss"):
			hasLogLoss = true
		}
	}
	switch {
	case hasAUC:
		return history.Binomial
	case hasLogLoss:
		return history.Multinomial
	}
	return history.Regression
}

// loadCoefficients reads name,value rows. A header row is skipped.
func loadCoefficients(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coefficients %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	out := make(map[string]float64)
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("coefficients %s line %d: %w", path, line, err)
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("coefficients %s line %d: want name,value", path, line)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("coefficients %s line %d: %w", path, line, err)
		}
		out[strings.TrimSpace(rec[0])] = v
	}
	return out, nil
}

// #endregion helpers
