package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMatchModes(t *testing.T) {
	modes, err := ParseMatchModes([]string{"Basic", " exact "})
	require.NoError(t, err)
	assert.Equal(t, []MatchMode{ModeBasic, ModeExact}, modes)

	tests := []struct {
		name  string
		names []string
		msg   string
	}{
		{"empty", nil, "at least one"},
		{"duplicate", []string{"exact", "EXACT"}, "duplicate"},
		{"default is not a lookup mode", []string{"default"}, "unknown match mode"},
		{"unknown", []string{"fuzzy"}, "unknown match mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMatchModes(tt.names)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestOutcome_Matched(t *testing.T) {
	assert.False(t, Outcome{NotFound: "no matching leaf"}.Matched())
	assert.True(t, Outcome{Result: &MatchResult{Mode: ModeExact}}.Matched())
}
