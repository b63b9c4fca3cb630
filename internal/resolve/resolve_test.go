package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

const tier = "十级伤残:5%"

func testTree(t *testing.T) *conditiontree.Tree {
	t.Helper()
	tree, err := conditiontree.FromEntries([]conditiontree.Entry{
		{
			Path: conditiontree.Path{Industry: []string{"A", "B", "C", "D"}, Disability: tier, Bracket: "200000", Renewal: "true"},
			Leaf: conditiontree.Leaf{Coefficient: 100, Score: 80, Source: "tree_industry_4"},
		},
		{
			Path: conditiontree.Path{Industry: []string{"A", "B"}, Disability: tier, Bracket: "200000", Renewal: "true"},
			Leaf: conditiontree.Leaf{Coefficient: 200, Score: 60, Source: "tree_industry_2"},
		},
		{
			Path: conditiontree.Path{Bracket: "200000", Renewal: "false"},
			Leaf: conditiontree.Leaf{Coefficient: 300, Score: 40, Source: "tree_basic"},
		},
	})
	require.NoError(t, err)
	return tree
}

func testTransform(t *testing.T, weight float64) *surcharge.Transform {
	t.Helper()
	tr, err := surcharge.New(config.SurchargeConfig{Weight: weight, Scale: 1000, Decay: 0.046, Offset: 0.01, Precision: 1})
	require.NoError(t, err)
	return tr
}

func record(id string, renewal bool, industry ...string) model.PolicyRecord {
	return model.PolicyRecord{
		PolicyID:      id,
		Industry:      industry,
		Disability:    tier,
		AmountBracket: "200000",
		Renewal:       renewal,
	}
}

func TestKeyFor(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{IndustryDepth: 2})
	require.NoError(t, err)

	p := r.KeyFor(record("1", true, "A", "B", "C", ""))
	assert.Equal(t, []string{"A", "B"}, p.Industry)
	assert.Equal(t, tier, p.Disability)
	assert.Equal(t, "200000", p.Bracket)
	assert.Equal(t, "true", p.Renewal)
}

func TestResolveModes(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1.5), Options{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		rec      model.PolicyRecord
		mode     model.MatchMode
		base     float64
		path     []string
		wantCoef float64
	}{
		{"exact", record("1", true, "A", "B", "C", "D"), model.ModeExact, 100, []string{"A", "B", "C", "D", tier, "200000", "true"}, 150},
		{"degrade", record("2", true, "A", "B", "X", "Y"), model.ModeIndustryDegrade, 200, []string{"A", "B", tier, "200000", "true"}, 300},
		{"basic", record("3", false, "Q"), model.ModeBasic, 300, []string{"200000", "false"}, 450},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, res.Mode)
			assert.Equal(t, tt.base, res.BaseCoefficient)
			assert.Equal(t, tt.wantCoef, res.Coefficient)
			assert.Equal(t, tt.path, res.ResolvedPath)
		})
	}
}

func TestResolveNotFound(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{})
	require.NoError(t, err)

	_, err = r.Resolve(record("x", true, "Z"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, conditiontree.ErrNotFound))
}

func TestResolveDefaultCoefficient(t *testing.T) {
	def := 1.0
	r, err := New(testTree(t), testTransform(t, 1), Options{DefaultCoefficient: &def})
	require.NoError(t, err)

	res, err := r.Resolve(record("x", true, "Z"))
	require.NoError(t, err)
	assert.Equal(t, model.ModeDefault, res.Mode)
	assert.Equal(t, 1.0, res.Coefficient)
}

func TestResolveAll_NotFoundDoesNotAbort(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{Concurrency: 4})
	require.NoError(t, err)

	var records []model.PolicyRecord
	for i := 0; i < 50; i++ {
		switch i % 3 {
		case 0:
			records = append(records, record(fmt.Sprint(i), true, "A", "B", "C", "D"))
		case 1:
			records = append(records, record(fmt.Sprint(i), true, "Z"))
		default:
			records = append(records, record(fmt.Sprint(i), false))
		}
	}

	outcomes, summary, err := r.ResolveAll(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, outcomes, 50)

	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, fmt.Sprint(i), o.PolicyID)
		switch i % 3 {
		case 0:
			require.True(t, o.Matched())
			assert.Equal(t, model.ModeExact, o.Result.Mode)
		case 1:
			assert.False(t, o.Matched())
			assert.Contains(t, o.NotFound, "no matching leaf")
		default:
			require.True(t, o.Matched())
			assert.Equal(t, model.ModeBasic, o.Result.Mode)
		}
	}

	assert.Equal(t, 50, summary.Total)
	assert.Equal(t, 17, summary.Exact)
	assert.Equal(t, 17, summary.NotFound)
	assert.Equal(t, 16, summary.Basic)
	assert.InDelta(t, 33.0/50.0, summary.MatchRate(), 1e-9)
}

func TestResolveAll_Cancelled(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = r.ResolveAll(ctx, []model.PolicyRecord{record("1", true, "A")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamMatchesBatch(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{Concurrency: 3})
	require.NoError(t, err)

	records := []model.PolicyRecord{
		record("1", true, "A", "B", "C", "D"),
		record("2", true, "A", "B", "C"),
		record("3", true, "Z"),
		record("4", false, "A"),
	}

	batch, batchSummary, err := r.ResolveAll(context.Background(), records)
	require.NoError(t, err)

	in := make(chan model.PolicyRecord)
	go func() {
		defer close(in)
		for _, rec := range records {
			in <- rec
		}
	}()

	var streamed []model.Outcome
	summary, err := r.Stream(context.Background(), in, func(o model.Outcome) error {
		streamed = append(streamed, o)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, batch, streamed)
	assert.Equal(t, batchSummary.Map(), summary.Map())
}

func TestStreamEmitError(t *testing.T) {
	r, err := New(testTree(t), testTransform(t, 1), Options{})
	require.NoError(t, err)

	in := make(chan model.PolicyRecord, 2)
	in <- record("1", true, "A")
	in <- record("2", true, "A")
	close(in)

	boom := errors.New("boom")
	_, err = r.Stream(context.Background(), in, func(model.Outcome) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, testTransform(t, 1), Options{})
	assert.Error(t, err)

	_, err = New(testTree(t), nil, Options{})
	assert.Error(t, err)
}

func TestSummaryStats(t *testing.T) {
	var s Summary
	s.Add(model.Outcome{Result: &model.MatchResult{Mode: model.ModeExact, Score: 80, Coefficient: 10}})
	s.Add(model.Outcome{Result: &model.MatchResult{Mode: model.ModeBasic, Score: 40, Coefficient: 30}})
	s.Add(model.Outcome{Result: &model.MatchResult{Mode: model.ModeDefault, Coefficient: 1}})
	s.Add(model.Outcome{NotFound: "x"})

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Matched())
	assert.Equal(t, 1, s.Default)
	assert.Equal(t, 40.0, s.MinScore)
	assert.Equal(t, 80.0, s.MaxScore)
	assert.Equal(t, 60.0, s.MeanScore)
	assert.Equal(t, 20.0, s.MeanCoefficient)
	assert.Equal(t, 0.75, s.Map()["match_rate"])
}

func TestSummary_DefaultsLeaveStatsAlone(t *testing.T) {
	exact := model.Outcome{Result: &model.MatchResult{Mode: model.ModeExact, Score: 50, Coefficient: 12}}
	def := model.Outcome{Result: &model.MatchResult{Mode: model.ModeDefault, Coefficient: 0}}

	tests := []struct {
		name      string
		outcomes  []model.Outcome
		matched   int
		meanScore float64
		meanCoef  float64
	}{
		{"only defaults", []model.Outcome{def, def}, 2, 0, 0},
		{"default first", []model.Outcome{def, exact}, 2, 50, 12},
		{"default last", []model.Outcome{exact, def}, 2, 50, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Summary
			for _, o := range tt.outcomes {
				s.Add(o)
			}
			assert.Equal(t, tt.matched, s.Matched())
			assert.Equal(t, tt.meanScore, s.MeanScore)
			assert.Equal(t, tt.meanCoef, s.MeanCoefficient)
		})
	}
}
