package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/industry"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/store"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

// env bundles the collaborators shared by the commands.
type env struct {
	cfg       *config.Config
	profile   config.ProfileConfig
	transform *surcharge.Transform
	industry  *industry.Index
}

// newEnv validates c for mode and builds the shared collaborators.
func newEnv(c *config.Config, mode string) (*env, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	p, err := c.Profile()
	if err != nil {
		return nil, err
	}
	tr, err := surcharge.New(c.Surcharge)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: c, profile: p, transform: tr}
	if p.Classification != "" {
		roots, err := industry.LoadJSON(p.Classification)
		if err != nil {
			return nil, eris.Wrap(err, "load classification")
		}
		e.industry = industry.NewIndex(roots, p.FormatIndustry)
		zap.L().Info("classification loaded",
			zap.String("path", p.Classification),
			zap.Int("codes", e.industry.Len()),
		)
	}
	return e, nil
}

func (e *env) reader(phase ingest.Phase) (*ingest.Reader, error) {
	schema, err := ingest.NewSchema(e.cfg.Ingest.Columns)
	if err != nil {
		return nil, err
	}
	opts := ingest.Options{
		Schema:  schema,
		Profile: e.profile,
		Phase:   phase,
		Table:   ingest.TableOptions{Sheet: e.cfg.Ingest.Sheet, Encoding: e.cfg.Ingest.Encoding},
	}
	// A nil *industry.Index must not become a non-nil interface.
	if e.industry != nil {
		opts.Industry = e.industry
	}
	return ingest.NewReader(opts), nil
}

func (e *env) resolveOptions() (resolve.Options, error) {
	modes, err := model.ParseMatchModes(e.cfg.Matching.Modes)
	if err != nil {
		return resolve.Options{}, eris.Wrap(config.ErrConfiguration, err.Error())
	}
	return resolve.Options{
		Modes:              modes,
		DefaultCoefficient: e.cfg.Matching.DefaultCoefficient,
		IndustryDepth:      e.profile.IndustryDepth,
		Concurrency:        e.cfg.Resolve.Concurrency,
	}, nil
}

func (e *env) openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, e.cfg.Store)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
