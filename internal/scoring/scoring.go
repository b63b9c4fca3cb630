// Package scoring turns group indicators into bounded risk scores.
package scoring

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/aggregate"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
)

// NeutralScore is assigned when the weighted sum is not a finite number.
const NeutralScore = 50.0

// Weights are the coefficients of the four indicators. They need not sum to 1.
type Weights struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
	Delta float64 `json:"delta"`
}

// Calculator scores groups with a fixed weight set and normalization.
type Calculator struct {
	weights           Weights
	premiumShareBasis string
	premiumShareValue float64
	perCapitaBasis    string
	perCapitaValue    float64
	round             bool
}

// NewCalculator validates cfg and returns a Calculator. Missing weight keys,
// negative weights and a non-positive weight sum are configuration errors.
func NewCalculator(cfg config.ScoringConfig) (*Calculator, error) {
	if errs := cfg.Problems(); len(errs) > 0 {
		return nil, eris.Wrapf(config.ErrConfiguration, "scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	w := cfg.Weights
	return &Calculator{
		weights:           Weights{Alpha: *w.Alpha, Beta: *w.Beta, Gamma: *w.Gamma, Delta: *w.Delta},
		premiumShareBasis: cfg.PremiumShareBasis,
		premiumShareValue: cfg.PremiumShareValue,
		perCapitaBasis:    cfg.PerCapitaBasis,
		perCapitaValue:    cfg.PerCapitaValue,
		round:             cfg.Round,
	}, nil
}

// Weights returns the configured weights.
func (c *Calculator) Weights() Weights {
	return c.weights
}

// Score computes
//
//	raw   = α·claim_ratio + β·(1 − premium_share_calibration) + γ·incidence_rate + δ·normalized_per_capita
//	score = clamp(100 − 100·raw, 0, 100)
//
// Indicators computed over a zero denominator contribute nothing, so a group
// whose indicators are all sentinels scores 100.
func (c *Calculator) Score(m model.GroupMetrics, basis aggregate.Basis) model.RiskScore {
	w := c.weights
	var raw float64

	if !m.Sentinels.Has(model.IndicatorClaimRatio) {
		raw += w.Alpha * m.ClaimRatio
	}
	if !m.Sentinels.Has(model.IndicatorPremiumShare) {
		raw += w.Beta * (1 - c.premiumShareCalibration(m.PremiumShare, basis))
	}
	if !m.Sentinels.Has(model.IndicatorIncidenceRate) {
		raw += w.Gamma * m.IncidenceRate
	}
	if !m.Sentinels.Has(model.IndicatorPerCapitaClaim) {
		raw += w.Delta * c.normalizedPerCapita(m.PerCapitaClaim, basis)
	}

	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		zap.L().Warn("scoring: non-finite weighted sum, using neutral score",
			zap.String("group", m.Key.Label()),
			zap.Float64("score", NeutralScore),
		)
		return model.RiskScore{Key: m.Key, Value: NeutralScore}
	}

	score := clamp(100-raw*100, 0, 100)
	if c.round {
		score = math.Round(score)
	}
	return model.RiskScore{Key: m.Key, Value: score}
}

func (c *Calculator) premiumShareCalibration(share float64, basis aggregate.Basis) float64 {
	switch c.premiumShareBasis {
	case config.BasisMax:
		return safeDiv(share, basis.MaxPremiumShare)
	case config.BasisFixed:
		return safeDiv(share, c.premiumShareValue)
	}
	return share
}

func (c *Calculator) normalizedPerCapita(perCapita float64, basis aggregate.Basis) float64 {
	switch c.perCapitaBasis {
	case config.BasisPortfolio:
		return safeDiv(perCapita, basis.PortfolioPerCapita)
	case config.BasisFixed:
		return safeDiv(perCapita, c.perCapitaValue)
	}
	return safeDiv(perCapita, basis.MaxPerCapita)
}

// ScoreResult scores every group of an aggregation, in group order.
func (c *Calculator) ScoreResult(res *aggregate.Result) []model.RiskScore {
	basis := res.Basis()
	scores := make([]model.RiskScore, len(res.Groups))
	for i, g := range res.Groups {
		scores[i] = c.Score(g, basis)
	}
	return scores
}

func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
