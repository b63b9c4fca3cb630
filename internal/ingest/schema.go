package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/risk-surcharge/internal/config"
)

// ErrDataIntegrity marks an input file that cannot be trusted: a required
// column is absent or a numeric cell is not a number.
var ErrDataIntegrity = eris.New("data integrity error")

// Field is a logical input column.
type Field string

// Logical input columns.
const (
	FieldPolicyID       Field = "policy_id"
	FieldEarnedPremium  Field = "earned_premium"
	FieldWrittenPremium Field = "written_premium"
	FieldClaimCount     Field = "claim_count"
	FieldClaimAmount    Field = "claim_amount"
	FieldInsuredPersons Field = "insured_persons"
	FieldRenewal        Field = "renewal"
	FieldDisability     Field = "disability"
	FieldIndustry1      Field = "industry_1"
	FieldIndustry2      Field = "industry_2"
	FieldIndustry3      Field = "industry_3"
	FieldIndustry4      Field = "industry_4"
	FieldIndustryCode   Field = "industry_code"
	FieldCity           Field = "city"
	FieldProvince       Field = "province"
	FieldInsuredAmount  Field = "insured_amount"
	FieldAmountBracket  Field = "amount_bracket"
)

// IndustryFields are the level columns in order.
var IndustryFields = []Field{FieldIndustry1, FieldIndustry2, FieldIndustry3, FieldIndustry4}

// DefaultColumns maps each field to the header used by the insurer exports.
var DefaultColumns = map[Field]string{
	FieldPolicyID:       "订单编号",
	FieldEarnedPremium:  "已赚保费",
	FieldWrittenPremium: "签单保费",
	FieldClaimCount:     "报案数量",
	FieldClaimAmount:    "累计赔付金额",
	FieldInsuredPersons: "最终承保人数",
	FieldRenewal:        "新单续保",
	FieldDisability:     "伤残",
	FieldIndustry1:      "行业1级",
	FieldIndustry2:      "行业2级",
	FieldIndustry3:      "行业3级",
	FieldIndustry4:      "行业4级",
	FieldIndustryCode:   "行业",
	FieldCity:           "城市",
	FieldProvince:       "省份",
	FieldInsuredAmount:  "保额",
	FieldAmountBracket:  "保额档次",
}

// Phase selects the required column set.
type Phase string

// Phases.
const (
	PhaseAssess Phase = "assess"
	PhaseApply  Phase = "apply"
)

var requiredFields = map[Phase][]Field{
	PhaseAssess: {FieldEarnedPremium, FieldClaimCount, FieldClaimAmount, FieldInsuredPersons, FieldRenewal, FieldDisability},
	PhaseApply:  {FieldRenewal, FieldDisability},
}

// Schema maps logical fields to header names.
type Schema struct {
	Columns map[Field]string
}

// NewSchema returns the default schema with configured overrides applied.
// Unknown field names are configuration errors.
func NewSchema(overrides map[string]string) (Schema, error) {
	cols := make(map[Field]string, len(DefaultColumns))
	for f, h := range DefaultColumns {
		cols[f] = h
	}

	var unknown []string
	for name, header := range overrides {
		f := Field(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := DefaultColumns[f]; !ok {
			unknown = append(unknown, name)
			continue
		}
		cols[f] = header
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Schema{}, eris.Wrapf(config.ErrConfiguration, "ingest: unknown column fields: %s", strings.Join(unknown, ", "))
	}
	return Schema{Columns: cols}, nil
}

// Binding is a schema resolved against one file's header.
type Binding struct {
	index map[Field]int
}

// Bind locates the schema's columns in header and checks the phase's required
// columns. Industry needs either the level-1 column or the industry code; the
// amount bracket needs either the bracket or the insured amount column.
func (s Schema) Bind(header []string, phase Phase) (*Binding, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, bom))
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	b := &Binding{index: make(map[Field]int, len(s.Columns))}
	for f, h := range s.Columns {
		if i, ok := pos[h]; ok {
			b.index[f] = i
		}
	}

	var missing []string
	for _, f := range requiredFields[phase] {
		if !b.Has(f) {
			missing = append(missing, s.Columns[f])
		}
	}
	if !b.Has(FieldIndustry1) && !b.Has(FieldIndustryCode) {
		missing = append(missing, fmt.Sprintf("%s or %s", s.Columns[FieldIndustry1], s.Columns[FieldIndustryCode]))
	}
	if !b.Has(FieldAmountBracket) && !b.Has(FieldInsuredAmount) {
		missing = append(missing, fmt.Sprintf("%s or %s", s.Columns[FieldAmountBracket], s.Columns[FieldInsuredAmount]))
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrDataIntegrity, "ingest: missing required columns: %s", strings.Join(missing, ", "))
	}
	return b, nil
}

// Has reports whether the field's column is present.
func (b *Binding) Has(f Field) bool {
	_, ok := b.index[f]
	return ok
}

// Get returns the trimmed cell of f, or "" when the column or cell is absent.
func (b *Binding) Get(row []string, f Field) string {
	i, ok := b.index[f]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
