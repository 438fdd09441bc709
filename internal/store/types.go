package store

import (
	"time"

	"github.com/danielpatrickdp/stopcheck/internal/history"
	"github.com/danielpatrickdp/stopcheck/internal/stopping"
)

// #region run
// Run is one training run whose early-stop history is audited.
type Run struct {
	RunID     string
	Algorithm string // "glm" | "gam"
	Family    string // "binomial" | "multinomial" | ...
	Category  history.Category
	Stopping  stopping.Config
	CreatedAt time.Time
	// HistoryRows is filled by ListRuns and GetRun.
	HistoryRows int
}

// #endregion run
