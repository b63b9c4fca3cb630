package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSentinels(t *testing.T) {
	var s Sentinels
	assert.Empty(t, s.Names())
	assert.Equal(t, "", s.String())

	s = s.With(IndicatorPremiumShare).With(IndicatorClaimRatio)
	assert.True(t, s.Has(IndicatorClaimRatio))
	assert.False(t, s.Has(IndicatorIncidenceRate))
	assert.Equal(t, []string{"claim_ratio", "premium_share"}, s.Names())
	assert.Equal(t, "claim_ratio,premium_share", s.String())

	m := GroupMetrics{Sentinels: s}
	assert.Equal(t, s.Names(), m.ZeroDenominators())
}

func TestTotals_Add(t *testing.T) {
	var tot Totals
	tot.Add(PolicyRecord{
		EarnedPremium:  decimal.RequireFromString("1000.50"),
		WrittenPremium: decimal.NewFromInt(1200),
		ClaimAmount:    decimal.NewFromInt(300),
		ClaimCount:     2,
		InsuredPersons: 10,
	})
	tot.Add(PolicyRecord{EarnedPremium: decimal.RequireFromString("0.25"), InsuredPersons: 5})

	assert.Equal(t, 2, tot.Records)
	assert.True(t, tot.EarnedPremium.Equal(decimal.RequireFromString("1000.75")))
	assert.True(t, tot.WrittenPremium.Equal(decimal.NewFromInt(1200)))
	assert.True(t, tot.ClaimAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, int64(2), tot.ClaimCount)
	assert.Equal(t, int64(15), tot.InsuredPersons)
}
