// Package aggregate groups policy records along dimensions and computes the
// per-group risk indicators.
package aggregate

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
)

// Result is one aggregation: groups in order of first appearance plus the
// grand totals of the whole input.
type Result struct {
	Dimensions []model.Dimension
	Groups     []model.GroupMetrics
	Total      model.Totals
}

// Basis holds the analysis-wide values the score normalizes against.
type Basis struct {
	MaxPerCapita       float64
	PortfolioPerCapita float64
	MaxPremiumShare    float64
}

// Aggregate buckets records by the values of dims and computes indicators for
// each bucket. It has no side effects.
func Aggregate(records []model.PolicyRecord, dims []model.Dimension) *Result {
	res := &Result{Dimensions: dims}

	index := make(map[string]int)
	var keys []model.DimensionKey
	var totals []model.Totals
	for _, r := range records {
		res.Total.Add(r)

		key := model.KeyOf(r, dims)
		k := key.String()
		i, ok := index[k]
		if !ok {
			i = len(keys)
			index[k] = i
			keys = append(keys, key)
			totals = append(totals, model.Totals{})
		}
		totals[i].Add(r)
	}

	res.Groups = make([]model.GroupMetrics, len(keys))
	for i, key := range keys {
		res.Groups[i] = Indicators(key, totals[i], res.Total.EarnedPremium)
	}
	return res
}

// Indicators derives the four indicators of a group from its sums. A zero
// denominator yields 0 and marks the indicator in Sentinels.
func Indicators(key model.DimensionKey, t model.Totals, totalEarned decimal.Decimal) model.GroupMetrics {
	m := model.GroupMetrics{Key: key, Totals: t}
	persons := decimal.NewFromInt(t.InsuredPersons)

	if v, ok := ratio(t.ClaimAmount, t.EarnedPremium); ok {
		m.ClaimRatio = v
	} else {
		m.Sentinels = m.Sentinels.With(model.IndicatorClaimRatio)
	}
	if v, ok := ratio(decimal.NewFromInt(t.ClaimCount), persons); ok {
		m.IncidenceRate = v
	} else {
		m.Sentinels = m.Sentinels.With(model.IndicatorIncidenceRate)
	}
	if v, ok := ratio(t.ClaimAmount, persons); ok {
		m.PerCapitaClaim = v
	} else {
		m.Sentinels = m.Sentinels.With(model.IndicatorPerCapitaClaim)
	}
	if v, ok := ratio(t.EarnedPremium, totalEarned); ok {
		m.PremiumShare = v
	} else {
		m.Sentinels = m.Sentinels.With(model.IndicatorPremiumShare)
	}
	return m
}

func ratio(num, den decimal.Decimal) (float64, bool) {
	if den.IsZero() {
		return 0, false
	}
	return num.DivRound(den, 16).InexactFloat64(), true
}

// Basis returns the normalization inputs of the aggregation.
func (r *Result) Basis() Basis {
	var b Basis
	for _, g := range r.Groups {
		if !g.Sentinels.Has(model.IndicatorPerCapitaClaim) && g.PerCapitaClaim > b.MaxPerCapita {
			b.MaxPerCapita = g.PerCapitaClaim
		}
		if !g.Sentinels.Has(model.IndicatorPremiumShare) && g.PremiumShare > b.MaxPremiumShare {
			b.MaxPremiumShare = g.PremiumShare
		}
	}
	if v, ok := ratio(r.Total.ClaimAmount, decimal.NewFromInt(r.Total.InsuredPersons)); ok {
		b.PortfolioPerCapita = v
	}
	return b
}

// Spec names one independent aggregation.
type Spec struct {
	Name       string
	Dimensions []model.Dimension
	Tree       bool
}

// Analysis is the result of one Spec.
type Analysis struct {
	Spec   Spec
	Result *Result
}

// ParseSpecs validates configured analyses.
func ParseSpecs(analyses []config.AnalysisConfig) ([]Spec, error) {
	if len(analyses) == 0 {
		return nil, eris.Wrap(config.ErrConfiguration, "aggregate: no analyses configured")
	}
	specs := make([]Spec, 0, len(analyses))
	seen := make(map[string]bool, len(analyses))
	for _, a := range analyses {
		if seen[a.Name] {
			return nil, eris.Wrapf(config.ErrConfiguration, "aggregate: duplicate analysis %q", a.Name)
		}
		seen[a.Name] = true

		dims := make([]model.Dimension, 0, len(a.Dimensions))
		for _, name := range a.Dimensions {
			d, err := model.ParseDimension(name)
			if err != nil {
				return nil, eris.Wrapf(config.ErrConfiguration, "aggregate: analysis %q: %s", a.Name, err.Error())
			}
			dims = append(dims, d)
		}
		if len(dims) == 0 {
			return nil, eris.Wrapf(config.ErrConfiguration, "aggregate: analysis %q has no dimensions", a.Name)
		}
		specs = append(specs, Spec{Name: a.Name, Dimensions: dims, Tree: a.Tree})
	}
	return specs, nil
}

// RunAnalyses runs each spec as an independent aggregation over records.
func RunAnalyses(records []model.PolicyRecord, specs []Spec) []Analysis {
	out := make([]Analysis, len(specs))
	for i, s := range specs {
		out[i] = Analysis{Spec: s, Result: Aggregate(records, s.Dimensions)}
	}
	return out
}
