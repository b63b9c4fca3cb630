// Package store persists run history and the lookup tables produced by the
// assessment phase, so that later application runs and the query server can
// resolve against a stored table instead of an assessment file.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
)

// ErrNotFound is returned when a run or lookup table does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Kind   model.RunKind   `json:"kind,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for assessment and application runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind, profile, input string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, summary map[string]any) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lookup tables. SaveLookupTable replaces any table stored for the run.
	// LoadLookupTable with an empty runID loads the table of the latest
	// completed assessment run and returns that run's ID.
	SaveLookupTable(ctx context.Context, runID string, entries []conditiontree.Entry) error
	LoadLookupTable(ctx context.Context, runID string) (string, []conditiontree.Entry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the configured backend and migrates it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg)
	default:
		return nil, eris.Wrapf(config.ErrConfiguration, "store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

var lookupColumns = []string{
	"run_id", "position", "industry", "disability", "amount_bracket", "renewal",
	"coefficient", "risk_score", "records", "source",
}
