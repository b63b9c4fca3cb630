// Package surcharge maps risk scores to premium surcharges.
package surcharge

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/config"
)

// Curve is the exponential score-to-surcharge function
// base(s) = Scale * (e^(-Decay*s) - Offset).
type Curve struct {
	Scale  float64
	Decay  float64
	Offset float64
}

// DefaultCurve returns the standard curve.
func DefaultCurve() Curve {
	return Curve{Scale: 1000, Decay: 0.046, Offset: 0.01}
}

// Base returns the unweighted surcharge for a score. Scores at or above 100
// carry no surcharge; scores at or below 0 carry the full scale. The result
// is never negative.
func (c Curve) Base(score float64) float64 {
	switch {
	case math.IsNaN(score):
		return c.Scale
	case score >= 100:
		return 0
	case score <= 0:
		return c.Scale
	}
	v := c.Scale * (math.Exp(-c.Decay*score) - c.Offset)
	if v < 0 {
		return 0
	}
	if v > c.Scale {
		return c.Scale
	}
	return v
}

// Transform applies a weight and a ceiling on top of a Curve.
type Transform struct {
	Curve     Curve
	Weight    float64
	Ceiling   float64
	Precision int
}

// New builds a Transform from configuration. Ceiling defaults to
// Scale*Weight when unset.
func New(cfg config.SurchargeConfig) (*Transform, error) {
	if cfg.Weight <= 0 {
		return nil, eris.Wrapf(config.ErrConfiguration, "surcharge: weight must be > 0, got %v", cfg.Weight)
	}
	if cfg.Scale <= 0 || cfg.Decay <= 0 {
		return nil, eris.Wrap(config.ErrConfiguration, "surcharge: scale and decay must be > 0")
	}
	if cfg.Precision < 0 {
		return nil, eris.Wrap(config.ErrConfiguration, "surcharge: precision must be >= 0")
	}

	t := &Transform{
		Curve:     Curve{Scale: cfg.Scale, Decay: cfg.Decay, Offset: cfg.Offset},
		Weight:    cfg.Weight,
		Ceiling:   cfg.Ceiling,
		Precision: cfg.Precision,
	}
	if t.Ceiling <= 0 {
		t.Ceiling = t.Curve.Scale * t.Weight
	}
	return t, nil
}

// Base returns the unweighted surcharge for a score.
func (t *Transform) Base(score float64) float64 {
	return t.Curve.Base(score)
}

// Apply weights a base surcharge, clamps it to [0, Ceiling] and rounds it.
func (t *Transform) Apply(base float64) float64 {
	v := base * t.Weight
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > t.Ceiling {
		v = t.Ceiling
	}
	return round(v, t.Precision)
}

// Final returns the weighted surcharge for a score.
func (t *Transform) Final(score float64) float64 {
	return t.Apply(t.Base(score))
}

// Row is one line of a verification table.
type Row struct {
	Score float64 `json:"risk_score"`
	Base  float64 `json:"base_surcharge"`
	Final float64 `json:"final_surcharge"`
}

// Table evaluates the transform at each score.
func (t *Transform) Table(scores []float64) []Row {
	rows := make([]Row, len(scores))
	for i, s := range scores {
		base := t.Base(s)
		rows[i] = Row{Score: s, Base: round(base, t.Precision), Final: t.Apply(base)}
	}
	return rows
}

func round(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
