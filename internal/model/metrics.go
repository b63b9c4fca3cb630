package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Indicator identifies one of the four risk indicators of a group.
type Indicator uint8

// Indicators, usable as bits of a Sentinels mask.
const (
	IndicatorClaimRatio Indicator = 1 << iota
	IndicatorIncidenceRate
	IndicatorPerCapitaClaim
	IndicatorPremiumShare
)

var indicatorNames = []struct {
	ind  Indicator
	name string
}{
	{IndicatorClaimRatio, "claim_ratio"},
	{IndicatorIncidenceRate, "incidence_rate"},
	{IndicatorPerCapitaClaim, "per_capita_claim"},
	{IndicatorPremiumShare, "premium_share"},
}

// Sentinels records which indicators had a zero denominator. Such indicators
// hold 0 and contribute nothing to a score.
type Sentinels uint8

// Has reports whether ind was computed over a zero denominator.
func (s Sentinels) Has(ind Indicator) bool {
	return s&Sentinels(ind) != 0
}

// With returns s with ind marked.
func (s Sentinels) With(ind Indicator) Sentinels {
	return s | Sentinels(ind)
}

// Names lists the marked indicators.
func (s Sentinels) Names() []string {
	var out []string
	for _, n := range indicatorNames {
		if s.Has(n.ind) {
			out = append(out, n.name)
		}
	}
	return out
}

func (s Sentinels) String() string {
	return strings.Join(s.Names(), ",")
}

// Totals holds summed raw figures for a group or a whole input.
type Totals struct {
	Records        int             `json:"records"`
	EarnedPremium  decimal.Decimal `json:"earned_premium"`
	WrittenPremium decimal.Decimal `json:"written_premium"`
	ClaimAmount    decimal.Decimal `json:"claim_amount"`
	ClaimCount     int64           `json:"claim_count"`
	InsuredPersons int64           `json:"insured_persons"`
}

// Add folds one record into t.
func (t *Totals) Add(r PolicyRecord) {
	t.Records++
	t.EarnedPremium = t.EarnedPremium.Add(r.EarnedPremium)
	t.WrittenPremium = t.WrittenPremium.Add(r.WrittenPremium)
	t.ClaimAmount = t.ClaimAmount.Add(r.ClaimAmount)
	t.ClaimCount += r.ClaimCount
	t.InsuredPersons += r.InsuredPersons
}

// GroupMetrics holds the sums and the four risk indicators of one group.
type GroupMetrics struct {
	Key            DimensionKey `json:"key"`
	Totals         Totals       `json:"totals"`
	ClaimRatio     float64      `json:"claim_ratio"`
	IncidenceRate  float64      `json:"incidence_rate"`
	PerCapitaClaim float64      `json:"per_capita_claim"`
	PremiumShare   float64      `json:"premium_share"`
	Sentinels      Sentinels    `json:"-"`
}

// ZeroDenominators lists the indicators that fell back to the zero sentinel.
func (m GroupMetrics) ZeroDenominators() []string {
	return m.Sentinels.Names()
}

// RiskScore is a bounded [0,100] score attached to a group; higher means lower risk.
type RiskScore struct {
	Key   DimensionKey `json:"key"`
	Value float64      `json:"value"`
}

// ScoredGroup joins a group's metrics with its score and base surcharge.
type ScoredGroup struct {
	Metrics       GroupMetrics `json:"metrics"`
	Score         float64      `json:"risk_score"`
	BaseSurcharge float64      `json:"base_surcharge"`
}
