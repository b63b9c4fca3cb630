package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileBracket(t *testing.T) {
	p := ProfileConfig{AmountBrackets: []float64{100000, 200000, 500000}}

	tests := []struct {
		amount float64
		want   string
	}{
		{0, "100000"},
		{100000, "100000"},
		{150000, "200000"},
		{200000, "200000"},
		{499999.5, "500000"},
		{600000, ">500000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Bracket(tt.amount), "amount %v", tt.amount)
	}

	assert.Equal(t, "250000", ProfileConfig{}.Bracket(250000))
}

func TestProfileParseRenewal(t *testing.T) {
	p := DefaultProfile()

	tests := []struct {
		label   string
		want    bool
		wantErr bool
	}{
		{"续保", true, false},
		{"新单", false, false},
		{" 续保 ", true, false},
		{"TRUE", true, false},
		{"0", false, false},
		{"", false, true},
		{"转保", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := p.ParseRenewal(tt.label)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfileFormatIndustry(t *testing.T) {
	assert.Equal(t, "C|制造业", DefaultProfile().FormatIndustry("C", "制造业"))
	assert.Equal(t, "制造业(C)", ProfileConfig{IndustryPattern: "{name}({code})"}.FormatIndustry("C", "制造业"))
}

func TestProfileWithDefaults(t *testing.T) {
	p := ProfileConfig{IndustryDepth: 9}.withDefaults()
	assert.Equal(t, 4, p.IndustryDepth)
	assert.Equal(t, "{code}|{name}", p.IndustryPattern)
	assert.Equal(t, "续保", p.RenewalLabel(true))
	assert.Equal(t, "新单", p.RenewalLabel(false))
}

func TestDefaultAnalysesTreeShapes(t *testing.T) {
	var trees []AnalysisConfig
	for _, a := range DefaultAnalyses() {
		if a.Tree {
			trees = append(trees, a)
		}
	}
	require.Len(t, trees, 5)
	assert.Equal(t, []string{"industry_1", "disability", "amount_bracket", "renewal"}, trees[0].Dimensions)
	assert.Equal(t, []string{"industry_1", "industry_2", "industry_3", "industry_4", "disability", "amount_bracket", "renewal"}, trees[3].Dimensions)
	assert.Equal(t, []string{"amount_bracket", "renewal"}, trees[4].Dimensions)
}
