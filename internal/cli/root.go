package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/stopcheck/internal/config"
	"github.com/danielpatrickdp/stopcheck/internal/logging"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
	"github.com/danielpatrickdp/stopcheck/internal/store"
)

// #region exit-codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error {
	return &exitError{code: exitUsage, err: err}
}

func usagef(format string, args ...any) error {
	return usageErr(fmt.Errorf(format, args...))
}

// errDiverged is returned after a comparison table has been printed.
var errDiverged = &exitError{code: exitFailure, err: errors.New("replay diverged from recorded outcomes")}

// #endregion exit-codes

// #region app
type app struct {
	cfgFile  string
	logLevel string
	dbPath   string

	cfg    *config.Config
	log    zerolog.Logger
	out    io.Writer
	errOut io.Writer
}

// NewRootCmd builds the stopcheck command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "stopcheck",
		Short: "Audit early-stopping decisions in model scoring histories",
		Long: `stopcheck decides from a scoring history whether a stopping_rounds /
stopping_tolerance policy should have stopped training, and checks that
against what the run actually did.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErr(err)
	})

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./stopcheck.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database DSN, overrides the config file")

	root.AddCommand(
		a.newEvaluateCmd(),
		a.newImportCmd(),
		a.newReplayCmd(),
		a.newInspectCmd(),
		a.newServeCmd(),
		a.newFetchCmd(),
	)
	return root
}

// Execute runs the command line args and returns the process exit code.
func Execute(args []string, out, errOut io.Writer) int {
	root := NewRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}

	code := exitFailure
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	} else if strings.HasPrefix(err.Error(), "unknown command") {
		code = exitUsage
	}
	if !errors.Is(err, errDiverged) {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	if code == exitUsage {
		fmt.Fprintln(errOut, "Run 'stopcheck --help' for usage.")
	}
	return code
}

func (a *app) setup() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.dbPath != "" {
		cfg.Database.DSN = a.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return usageErr(fmt.Errorf("config: %w", err))
	}
	a.cfg = cfg
	a.log = logging.NewLogger(a.errOut, cfg.Log.Level, cfg.Log.Format)
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.NewStore(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.log.Debug().Str("driver", a.cfg.Database.Driver).Msg("store opened")
	return st, nil
}

// #endregion app

// #region args
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageErr(err)
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return usageErr(err)
	}
	return nil
}

// #endregion args

// #region policy-flags
// policyFlags overrides a base stopping policy with the flags the user set.
type policyFlags struct {
	metric     string
	rounds     int
	tolerance  float64
	exhaustive bool
}

func (p *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.metric, "metric", "", "stopping metric (logloss, deviance, rmse, r2, mae, auc, pr_auc, lift, classification_error)")
	cmd.Flags().IntVar(&p.rounds, "rounds", 0, "stopping_rounds")
	cmd.Flags().Float64Var(&p.tolerance, "tolerance", 0, "stopping_tolerance (relative improvement)")
	cmd.Flags().BoolVar(&p.exhaustive, "exhaustive", false, "early stopping disabled by exhaustive search (lambda search)")
}

func (p *policyFlags) resolve(cmd *cobra.Command, base stopping.Config) (stopping.Config, error) {
	cfg := base
	f := cmd.Flags()
	if f.Changed("metric") {
		m, err := stopping.ParseMetric(p.metric)
		if err != nil {
			return stopping.Config{}, usageErr(err)
		}
		cfg.Metric = m
	}
	if f.Changed("rounds") {
		cfg.StoppingRounds = p.rounds
	}
	if f.Changed("tolerance") {
		cfg.Tolerance = p.tolerance
	}
	if f.Changed("exhaustive") {
		cfg.ExhaustiveSearch = p.exhaustive
	}
	if err := cfg.Validate(); err != nil {
		return stopping.Config{}, usageErr(err)
	}
	return cfg, nil
}

// #endregion policy-flags
