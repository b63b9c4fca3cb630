// Package model defines the shared types of the risk scoring and surcharge resolution pipeline.
package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MaxIndustryDepth is the deepest industry classification level carried on a record.
const MaxIndustryDepth = 4

// PolicyRecord is one cleaned row of order data.
type PolicyRecord struct {
	PolicyID       string          `json:"policy_id,omitempty"`
	EarnedPremium  decimal.Decimal `json:"earned_premium"`
	WrittenPremium decimal.Decimal `json:"written_premium"`
	ClaimCount     int64           `json:"claim_count"`
	ClaimAmount    decimal.Decimal `json:"claim_amount"`
	InsuredPersons int64           `json:"insured_persons"`
	InsuredAmount  decimal.Decimal `json:"insured_amount"`
	Renewal        bool            `json:"renewal"`
	Disability     string          `json:"disability"`
	Industry       []string        `json:"industry"`
	City           string          `json:"city,omitempty"`
	Province       string          `json:"province,omitempty"`
	AmountBracket  string          `json:"amount_bracket"`
}

// IndustryLevel returns the 1-based industry level label, or "" when the record
// is classified less deeply.
func (r PolicyRecord) IndustryLevel(level int) string {
	if level < 1 || level > len(r.Industry) {
		return ""
	}
	return r.Industry[level-1]
}

// IndustryPath returns a copy of the industry levels, cut at the first blank level.
func (r PolicyRecord) IndustryPath() []string {
	return TrimIndustry(r.Industry)
}

// TrimIndustry copies levels up to (not including) the first blank entry.
func TrimIndustry(levels []string) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.TrimSpace(l)
		if l == "" {
			break
		}
		out = append(out, l)
	}
	return out
}
