// Package export renders assessment and application results as XLSX sheets,
// CSV files and JSON documents.
package export

import (
	"strconv"
	"strings"

	"github.com/sells-group/risk-surcharge/internal/assess"
	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

// Table is one sheet of output. Cells are string, float64, int or int64.
type Table struct {
	Name   string
	Header []string
	Rows   [][]any
}

// AnalysisTable renders one analysis, one row per group.
func AnalysisTable(a assess.AnalysisReport) Table {
	t := Table{Name: a.Name}
	for _, d := range a.Dimensions {
		t.Header = append(t.Header, string(d))
	}
	t.Header = append(t.Header,
		"records", "earned_premium", "written_premium", "claim_amount", "claim_count", "insured_persons",
		"claim_ratio", "incidence_rate", "per_capita_claim", "premium_share", "zero_denominators",
		"risk_score", "base_surcharge",
	)

	for _, g := range a.Groups {
		row := make([]any, 0, len(t.Header))
		for _, p := range g.Metrics.Key {
			row = append(row, p.Value)
		}
		tot := g.Metrics.Totals
		row = append(row,
			tot.Records,
			tot.EarnedPremium.InexactFloat64(),
			tot.WrittenPremium.InexactFloat64(),
			tot.ClaimAmount.InexactFloat64(),
			tot.ClaimCount,
			tot.InsuredPersons,
			g.Metrics.ClaimRatio,
			g.Metrics.IncidenceRate,
			g.Metrics.PerCapitaClaim,
			g.Metrics.PremiumShare,
			g.Metrics.Sentinels.String(),
			g.Score,
			g.BaseSurcharge,
		)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// LookupTable renders the flattened condition tree.
func LookupTable(entries []conditiontree.Entry) Table {
	t := Table{
		Name: "lookup",
		Header: []string{
			"industry_1", "industry_2", "industry_3", "industry_4",
			"disability", "amount_bracket", "renewal",
			"coefficient", "risk_score", "records", "source",
		},
	}
	for _, e := range entries {
		row := make([]any, 0, len(t.Header))
		for lvl := 0; lvl < model.MaxIndustryDepth; lvl++ {
			v := ""
			if lvl < len(e.Path.Industry) {
				v = e.Path.Industry[lvl]
			}
			row = append(row, v)
		}
		row = append(row,
			e.Path.Disability, e.Path.Bracket, e.Path.Renewal,
			e.Leaf.Coefficient, e.Leaf.Score, e.Leaf.Records, e.Leaf.Source,
		)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// ConflictTable renders build conflicts.
func ConflictTable(conflicts []conditiontree.Conflict) Table {
	t := Table{
		Name:   "conflicts",
		Header: []string{"path", "previous_coefficient", "previous_source", "current_coefficient", "current_source"},
	}
	for _, c := range conflicts {
		t.Rows = append(t.Rows, []any{
			c.Path.String(), c.Previous.Coefficient, c.Previous.Source, c.Current.Coefficient, c.Current.Source,
		})
	}
	return t
}

// OutcomeTable renders per-record application results in input order.
func OutcomeTable(outcomes []model.Outcome) Table {
	t := Table{
		Name: "results",
		Header: []string{
			"index", "policy_id", "query", "matched_mode", "risk_score",
			"base_coefficient", "coefficient", "resolved_path", "not_found",
		},
	}
	for _, o := range outcomes {
		row := []any{o.Index, o.PolicyID, strings.Join(o.Query, " / ")}
		if o.Result != nil {
			row = append(row,
				string(o.Result.Mode), o.Result.Score, o.Result.BaseCoefficient, o.Result.Coefficient,
				strings.Join(o.Result.ResolvedPath, " / "), "",
			)
		} else {
			row = append(row, "", "", "", "", "", o.NotFound)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// SummaryTable renders match statistics as metric/value rows.
func SummaryTable(s resolve.Summary) Table {
	return Table{
		Name:   "summary",
		Header: []string{"metric", "value"},
		Rows: [][]any{
			{"total", s.Total},
			{"exact", s.Exact},
			{"industry_degrade", s.IndustryDegrade},
			{"basic", s.Basic},
			{"default", s.Default},
			{"not_found", s.NotFound},
			{"match_rate", s.MatchRate()},
			{"min_score", s.MinScore},
			{"max_score", s.MaxScore},
			{"mean_score", s.MeanScore},
			{"mean_coefficient", s.MeanCoefficient},
		},
	}
}

// SurchargeTable renders a transform verification table.
func SurchargeTable(rows []surcharge.Row) Table {
	t := Table{Name: "surcharge", Header: []string{"risk_score", "base_surcharge", "final_surcharge"}}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{r.Score, r.Base, r.Final})
	}
	return t
}

// CompletenessTable renders a column completeness report.
func CompletenessTable(cols []ingest.ColumnCompleteness) Table {
	t := Table{Name: "completeness", Header: []string{"column", "present", "blank", "filled_ratio"}}
	for _, c := range cols {
		t.Rows = append(t.Rows, []any{c.Column, strconv.FormatBool(c.Present), c.Blank, c.Filled})
	}
	return t
}

// RawTable wraps string rows, e.g. an enriched input file.
func RawTable(name string, header []string, rows [][]string) Table {
	t := Table{Name: name, Header: header, Rows: make([][]any, len(rows))}
	for i, r := range rows {
		row := make([]any, len(r))
		for j, c := range r {
			row[j] = c
		}
		t.Rows[i] = row
	}
	return t
}

func cellString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case nil:
		return ""
	}
	return ""
}
