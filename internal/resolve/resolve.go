// Package resolve applies a condition tree and a surcharge transform to
// policy records, one at a time or in batches.
package resolve

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

// Options configures a Resolver.
type Options struct {
	// Modes is the lookup order; empty means model.DefaultModes.
	Modes []model.MatchMode
	// DefaultCoefficient, when set, resolves records no mode matched.
	DefaultCoefficient *float64
	// IndustryDepth caps the industry levels used in the lookup key.
	IndustryDepth int
	Concurrency   int
}

// Resolver is safe for concurrent use once built.
type Resolver struct {
	tree      *conditiontree.Tree
	transform *surcharge.Transform
	opts      Options
}

// New returns a Resolver over an immutable tree.
func New(tree *conditiontree.Tree, transform *surcharge.Transform, opts Options) (*Resolver, error) {
	if tree == nil {
		return nil, eris.New("resolve: nil tree")
	}
	if transform == nil {
		return nil, eris.New("resolve: nil transform")
	}
	if len(opts.Modes) == 0 {
		opts.Modes = model.DefaultModes
	}
	if opts.IndustryDepth <= 0 || opts.IndustryDepth > model.MaxIndustryDepth {
		opts.IndustryDepth = model.MaxIndustryDepth
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Resolver{tree: tree, transform: transform, opts: opts}, nil
}

// KeyFor builds the lookup path of a record.
func (r *Resolver) KeyFor(rec model.PolicyRecord) conditiontree.Path {
	industry := rec.IndustryPath()
	if len(industry) > r.opts.IndustryDepth {
		industry = industry[:r.opts.IndustryDepth]
	}
	return conditiontree.Path{
		Industry:   industry,
		Disability: rec.Disability,
		Bracket:    rec.AmountBracket,
		Renewal:    model.DimRenewal.Value(rec),
	}
}

// Resolve looks up one record. The error wraps conditiontree.ErrNotFound
// when no mode matched and no default coefficient is configured.
func (r *Resolver) Resolve(rec model.PolicyRecord) (model.MatchResult, error) {
	return r.resolvePath(r.KeyFor(rec))
}

func (r *Resolver) resolvePath(p conditiontree.Path) (model.MatchResult, error) {
	m, err := r.tree.Lookup(p, r.opts.Modes...)
	if err != nil {
		if r.opts.DefaultCoefficient != nil && errors.Is(err, conditiontree.ErrNotFound) {
			c := *r.opts.DefaultCoefficient
			return model.MatchResult{
				Mode:            model.ModeDefault,
				Coefficient:     c,
				BaseCoefficient: c,
				ResolvedPath:    []string{},
			}, nil
		}
		return model.MatchResult{}, err
	}

	return model.MatchResult{
		Mode:            m.Mode,
		Coefficient:     r.transform.Apply(m.Leaf.Coefficient),
		BaseCoefficient: m.Leaf.Coefficient,
		Score:           m.Leaf.Score,
		ResolvedPath:    m.Path.Values(),
		Source:          m.Leaf.Source,
	}, nil
}

// Outcome resolves one record into an Outcome. Not-found records become
// soft failures.
func (r *Resolver) Outcome(index int, rec model.PolicyRecord) model.Outcome {
	p := r.KeyFor(rec)
	o := model.Outcome{Index: index, PolicyID: rec.PolicyID, Query: p.Values()}

	res, err := r.resolvePath(p)
	if err != nil {
		o.NotFound = err.Error()
		zap.L().Debug("resolve: record not matched",
			zap.Int("index", index),
			zap.String("policy_id", rec.PolicyID),
			zap.Error(err),
		)
		return o
	}
	o.Result = &res
	return o
}

// ResolveAll resolves records concurrently. Outcomes are in input order. The
// returned error is only ever a context error.
func (r *Resolver) ResolveAll(ctx context.Context, records []model.PolicyRecord) ([]model.Outcome, Summary, error) {
	outcomes := make([]model.Outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)

	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.Outcome(i, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, eris.Wrap(err, "resolve: batch")
	}

	var s Summary
	for _, o := range outcomes {
		s.Add(o)
	}
	s.log()
	return outcomes, s, nil
}

// Stream resolves records as they arrive and hands each outcome to emit.
// It stops on context cancellation or an emit error.
func (r *Resolver) Stream(ctx context.Context, in <-chan model.PolicyRecord, emit func(model.Outcome) error) (Summary, error) {
	var s Summary
	i := 0
	for {
		select {
		case <-ctx.Done():
			return s, eris.Wrap(ctx.Err(), "resolve: stream")
		case rec, ok := <-in:
			if !ok {
				s.log()
				return s, nil
			}
			o := r.Outcome(i, rec)
			i++
			s.Add(o)
			if err := emit(o); err != nil {
				return s, eris.Wrap(err, "resolve: emit outcome")
			}
		}
	}
}
