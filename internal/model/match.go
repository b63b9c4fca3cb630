package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// MatchMode names the lookup policy that produced a surcharge.
type MatchMode string

// Match modes, tried in the configured order.
const (
	ModeExact           MatchMode = "exact"
	ModeIndustryDegrade MatchMode = "industry_degrade"
	ModeBasic           MatchMode = "basic"
	// ModeDefault marks a documented default coefficient used after every
	// configured mode failed. Only produced when the caller opts in.
	ModeDefault MatchMode = "default"
)

// DefaultModes is the full fallback order.
var DefaultModes = []MatchMode{ModeExact, ModeIndustryDegrade, ModeBasic}

// ParseMatchMode validates a configured mode name. ModeDefault is not a lookup
// mode and is rejected here.
func ParseMatchMode(s string) (MatchMode, error) {
	m := MatchMode(strings.TrimSpace(strings.ToLower(s)))
	switch m {
	case ModeExact, ModeIndustryDegrade, ModeBasic:
		return m, nil
	}
	return "", eris.Errorf("model: unknown match mode %q", s)
}

// ParseMatchModes parses an ordered list of mode names, rejecting duplicates.
func ParseMatchModes(names []string) ([]MatchMode, error) {
	if len(names) == 0 {
		return nil, eris.New("model: at least one match mode is required")
	}
	seen := make(map[MatchMode]bool, len(names))
	modes := make([]MatchMode, 0, len(names))
	for _, n := range names {
		m, err := ParseMatchMode(n)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			return nil, eris.Errorf("model: duplicate match mode %q", m)
		}
		seen[m] = true
		modes = append(modes, m)
	}
	return modes, nil
}

// MatchResult is the resolved surcharge for one query.
type MatchResult struct {
	Mode            MatchMode `json:"matched_mode"`
	Coefficient     float64   `json:"coefficient"`
	BaseCoefficient float64   `json:"base_coefficient"`
	Score           float64   `json:"risk_score"`
	ResolvedPath    []string  `json:"resolved_path"`
	Source          string    `json:"source,omitempty"`
}

// Outcome is the per-record result of the application phase. Exactly one of
// Result and NotFound is set.
type Outcome struct {
	Index    int          `json:"index"`
	PolicyID string       `json:"policy_id,omitempty"`
	Query    []string     `json:"query"`
	Result   *MatchResult `json:"result,omitempty"`
	NotFound string       `json:"not_found,omitempty"`
}

// Matched reports whether the outcome resolved a coefficient.
func (o Outcome) Matched() bool {
	return o.Result != nil
}
