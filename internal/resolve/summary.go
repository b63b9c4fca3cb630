package resolve

import (
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/model"
)

// Summary counts outcomes by match mode and tracks score and coefficient
// statistics of the records matched in the tree. Default outcomes count
// toward Matched but not toward the statistics.
type Summary struct {
	Total           int     `json:"total"`
	Exact           int     `json:"exact"`
	IndustryDegrade int     `json:"industry_degrade"`
	Basic           int     `json:"basic"`
	Default         int     `json:"default"`
	NotFound        int     `json:"not_found"`
	MinScore        float64 `json:"min_score"`
	MaxScore        float64 `json:"max_score"`
	MeanScore       float64 `json:"mean_score"`
	MeanCoefficient float64 `json:"mean_coefficient"`

	scored   int
	scoreSum float64
	coefSum  float64
}

// Add folds one outcome into s.
func (s *Summary) Add(o model.Outcome) {
	s.Total++
	if o.Result == nil {
		s.NotFound++
		return
	}

	switch o.Result.Mode {
	case model.ModeExact:
		s.Exact++
	case model.ModeIndustryDegrade:
		s.IndustryDegrade++
	case model.ModeBasic:
		s.Basic++
	case model.ModeDefault:
		s.Default++
	}

	// Default outcomes carry no score.
	if o.Result.Mode == model.ModeDefault {
		return
	}
	if s.scored == 0 {
		s.MinScore, s.MaxScore = o.Result.Score, o.Result.Score
	} else {
		s.MinScore = math.Min(s.MinScore, o.Result.Score)
		s.MaxScore = math.Max(s.MaxScore, o.Result.Score)
	}
	s.scored++
	s.scoreSum += o.Result.Score
	s.coefSum += o.Result.Coefficient
	s.MeanScore = s.scoreSum / float64(s.scored)
	s.MeanCoefficient = s.coefSum / float64(s.scored)
}

// Matched is the number of outcomes that resolved a coefficient.
func (s Summary) Matched() int {
	return s.Total - s.NotFound
}

// MatchRate is Matched/Total, or 0 for an empty run.
func (s Summary) MatchRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Matched()) / float64(s.Total)
}

// Map renders the summary for run history.
func (s Summary) Map() map[string]any {
	return map[string]any{
		"total":            s.Total,
		"exact":            s.Exact,
		"industry_degrade": s.IndustryDegrade,
		"basic":            s.Basic,
		"default":          s.Default,
		"not_found":        s.NotFound,
		"match_rate":       s.MatchRate(),
		"mean_score":       s.MeanScore,
		"mean_coefficient": s.MeanCoefficient,
	}
}

func (s Summary) log() {
	zap.L().Info("resolve: complete",
		zap.Int("total", s.Total),
		zap.Int("exact", s.Exact),
		zap.Int("industry_degrade", s.IndustryDegrade),
		zap.Int("basic", s.Basic),
		zap.Int("default", s.Default),
		zap.Int("not_found", s.NotFound),
		zap.Float64("match_rate", s.MatchRate()),
	)
}
