package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/risk-surcharge/internal/assess"
	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
)

func testReport(t *testing.T) *assess.Report {
	t.Helper()
	b := conditiontree.NewBuilder()
	p := conditiontree.Path{Industry: []string{"A", "B"}, Disability: "十级伤残:5%", Bracket: "200000", Renewal: "true"}
	require.NoError(t, b.Insert(p, conditiontree.Leaf{Coefficient: 120.5, Score: 60.25, Records: 3, Source: "tree_industry_2"}))
	require.NoError(t, b.Insert(p, conditiontree.Leaf{Coefficient: 130, Score: 58, Records: 3, Source: "dup"}))
	tree := b.Build()

	return &assess.Report{
		Records: 3,
		Total:   model.Totals{Records: 3, EarnedPremium: decimal.NewFromInt(3000)},
		Analyses: []assess.AnalysisReport{{
			Name:       "renewal_disability_industry_2_city_long_name",
			Dimensions: []model.Dimension{model.DimRenewal},
			Groups: []model.ScoredGroup{{
				Metrics: model.GroupMetrics{
					Key:        model.DimensionKey{{Dimension: model.DimRenewal, Value: "true"}},
					Totals:     model.Totals{Records: 3, EarnedPremium: decimal.NewFromInt(3000), ClaimCount: 2, InsuredPersons: 10},
					ClaimRatio: 0.1,
					Sentinels:  model.Sentinels(0).With(model.IndicatorPremiumShare),
				},
				Score:         60.25,
				BaseSurcharge: 52.7,
			}},
		}},
		Tree:      tree,
		Conflicts: tree.Conflicts(),
	}
}

func TestAssessmentDocument_RoundTrip(t *testing.T) {
	doc := NewAssessmentDocument("run-1", "default", "orders.csv", testReport(t), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "json", "assessment.json")
	require.NoError(t, WriteJSON(path, doc))

	got, err := ReadAssessment(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, doc.Lookup, got.Lookup)
	require.Len(t, got.Conflicts, 1)
	assert.Equal(t, 130.0, got.Conflicts[0].Current.Coefficient)
	assert.True(t, got.Total.EarnedPremium.Equal(decimal.NewFromInt(3000)))

	tree, err := conditiontree.FromEntries(got.Lookup)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
}

func TestReadAssessment_BadVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))

	_, err := ReadAssessment(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document version")
}

func TestWriteXLSX_Sheets(t *testing.T) {
	doc := NewAssessmentDocument("run-1", "default", "orders.csv", testReport(t), time.Now())
	path := filepath.Join(t.TempDir(), "assessment.xlsx")
	require.NoError(t, WriteXLSX(path, doc.Tables()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 3)
	assert.Equal(t, "renewal_disability_industry_2_c", f.Sheets[0].Name)
	assert.Equal(t, "lookup", f.Sheets[1].Name)
	assert.Equal(t, "conflicts", f.Sheets[2].Name)

	analysis := f.Sheets[0]
	require.Len(t, analysis.Rows, 2)
	assert.Equal(t, "renewal", analysis.Rows[0].Cells[0].String())
	assert.Equal(t, "true", analysis.Rows[1].Cells[0].String())

	lookup := f.Sheets[1]
	require.Len(t, lookup.Rows, 2)
	assert.Equal(t, "A", lookup.Rows[1].Cells[0].String())
	assert.Equal(t, "", lookup.Rows[1].Cells[2].String())
}

func TestSheetName_Unique(t *testing.T) {
	used := map[string]bool{}
	long := strings.Repeat("x", 40)
	a := sheetName(long, used)
	b := sheetName(long, used)
	assert.Len(t, a, 31)
	assert.Len(t, b, 31)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "sheet", sheetName("", used))
}

func TestWriteCSV(t *testing.T) {
	outcomes := []model.Outcome{
		{Index: 0, PolicyID: "P1", Query: []string{"A", "200000", "true"}, Result: &model.MatchResult{
			Mode: model.ModeBasic, Coefficient: 12.5, BaseCoefficient: 12.5, Score: 90, ResolvedPath: []string{"200000", "true"},
		}},
		{Index: 1, PolicyID: "P2", Query: []string{"Z"}, NotFound: "no matching leaf"},
	}
	path := filepath.Join(t.TempDir(), "out", "results.csv")
	require.NoError(t, WriteCSV(path, OutcomeTable(outcomes)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "\uFEFF"))

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(data), "\uFEFF"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "matched_mode", rows[0][3])
	assert.Equal(t, "basic", rows[1][3])
	assert.Equal(t, "12.5", rows[1][6])
	assert.Equal(t, "200000 / true", rows[1][7])
	assert.Equal(t, "no matching leaf", rows[2][8])
}

func TestSummaryTable(t *testing.T) {
	var s resolve.Summary
	s.Add(model.Outcome{Result: &model.MatchResult{Mode: model.ModeExact, Score: 80}})
	s.Add(model.Outcome{NotFound: "x"})

	tbl := SummaryTable(s)
	assert.Equal(t, []any{"exact", 1}, tbl.Rows[1])
	assert.Equal(t, []any{"match_rate", 0.5}, tbl.Rows[6])
}

func TestRawTable(t *testing.T) {
	tbl := RawTable("enriched", []string{"a"}, [][]string{{"1"}, {"2"}})
	assert.Equal(t, [][]any{{"1"}, {"2"}}, tbl.Rows)
}
