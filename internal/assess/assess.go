// Package assess runs the scoring phase: independent grouping analyses,
// scores and base surcharges per group, and the condition tree built from
// the tree analyses.
package assess

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/aggregate"
	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/scoring"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

// Options holds the immutable inputs of one assessment.
type Options struct {
	Specs      []aggregate.Spec
	Calculator *scoring.Calculator
	Transform  *surcharge.Transform
}

// AnalysisReport is one scored analysis.
type AnalysisReport struct {
	Name       string              `json:"name"`
	Dimensions []model.Dimension   `json:"dimensions"`
	Tree       bool                `json:"tree"`
	Groups     []model.ScoredGroup `json:"groups"`
	// Skipped counts groups left out of the tree because their industry path
	// is shallower than the analysis or their disability tier is blank.
	Skipped int `json:"skipped,omitempty"`
}

// Report is the output of Run.
type Report struct {
	Records   int                      `json:"records"`
	Total     model.Totals             `json:"total"`
	Weights   scoring.Weights          `json:"weights"`
	Analyses  []AnalysisReport         `json:"analyses"`
	Tree      *conditiontree.Tree      `json:"-"`
	Conflicts []conditiontree.Conflict `json:"conflicts"`
}

// ValidateSpecs checks that tree analyses can address tree leaves: they need
// renewal and amount_bracket, may add disability and a contiguous industry
// prefix, and nothing else.
func ValidateSpecs(specs []aggregate.Spec) error {
	for _, s := range specs {
		if !s.Tree {
			continue
		}
		var hasRenewal, hasBracket bool
		depth := 0
		for _, d := range s.Dimensions {
			switch {
			case d == model.DimRenewal:
				hasRenewal = true
			case d == model.DimAmountBracket:
				hasBracket = true
			case d == model.DimDisability:
			case d.IndustryLevel() > 0:
				if d.IndustryLevel() != depth+1 {
					return eris.Wrapf(config.ErrConfiguration, "assess: analysis %q: industry levels must run 1..k in order", s.Name)
				}
				depth++
			default:
				return eris.Wrapf(config.ErrConfiguration, "assess: analysis %q: dimension %s cannot feed the condition tree", s.Name, d)
			}
		}
		if !hasRenewal || !hasBracket {
			return eris.Wrapf(config.ErrConfiguration, "assess: analysis %q: tree analyses need renewal and amount_bracket", s.Name)
		}
	}
	return nil
}

// Run scores every analysis over records and builds the condition tree.
func Run(records []model.PolicyRecord, opts Options) (*Report, error) {
	if opts.Calculator == nil || opts.Transform == nil {
		return nil, eris.New("assess: calculator and transform are required")
	}
	if err := ValidateSpecs(opts.Specs); err != nil {
		return nil, err
	}

	rep := &Report{
		Records: len(records),
		Weights: opts.Calculator.Weights(),
	}
	builder := conditiontree.NewBuilder()

	for _, a := range aggregate.RunAnalyses(records, opts.Specs) {
		rep.Total = a.Result.Total
		scores := opts.Calculator.ScoreResult(a.Result)

		ar := AnalysisReport{
			Name:       a.Spec.Name,
			Dimensions: a.Spec.Dimensions,
			Tree:       a.Spec.Tree,
			Groups:     make([]model.ScoredGroup, len(a.Result.Groups)),
		}
		for i, g := range a.Result.Groups {
			sg := model.ScoredGroup{
				Metrics:       g,
				Score:         scores[i].Value,
				BaseSurcharge: opts.Transform.Base(scores[i].Value),
			}
			ar.Groups[i] = sg

			if !a.Spec.Tree {
				continue
			}
			p, ok := TreePath(g.Key)
			if !ok {
				ar.Skipped++
				continue
			}
			leaf := conditiontree.Leaf{
				Coefficient: sg.BaseSurcharge,
				Score:       sg.Score,
				Records:     g.Totals.Records,
				Source:      a.Spec.Name + ": " + g.Key.Label(),
			}
			if err := builder.Insert(p, leaf); err != nil {
				return nil, eris.Wrapf(err, "assess: analysis %q", a.Spec.Name)
			}
		}

		zap.L().Info("assess: analysis scored",
			zap.String("analysis", ar.Name),
			zap.Int("groups", len(ar.Groups)),
			zap.Int("skipped", ar.Skipped),
		)
		rep.Analyses = append(rep.Analyses, ar)
	}

	rep.Tree = builder.Build()
	rep.Conflicts = rep.Tree.Conflicts()
	if len(rep.Conflicts) > 0 {
		zap.L().Warn("assess: condition tree conflicts", zap.Int("count", len(rep.Conflicts)))
	}
	zap.L().Info("assess: condition tree built", zap.Int("leaves", rep.Tree.Len()))
	return rep, nil
}

// TreePath converts a tree-analysis group key into a condition tree path. It
// reports false when a keyed industry level, disability tier, bracket or
// renewal value is blank. A blank tier would otherwise address the same leaf
// as an analysis that does not key on disability.
func TreePath(key model.DimensionKey) (conditiontree.Path, bool) {
	var p conditiontree.Path
	for _, part := range key {
		switch {
		case part.Dimension.IndustryLevel() > 0:
			if part.Value == "" {
				return conditiontree.Path{}, false
			}
			p.Industry = append(p.Industry, part.Value)
		case part.Dimension == model.DimDisability:
			if part.Value == "" {
				return conditiontree.Path{}, false
			}
			p.Disability = part.Value
		case part.Dimension == model.DimAmountBracket:
			p.Bracket = part.Value
		case part.Dimension == model.DimRenewal:
			p.Renewal = part.Value
		}
	}
	if p.Bracket == "" || p.Renewal == "" {
		return conditiontree.Path{}, false
	}
	return p, true
}
