package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
)

// IndustryResolver maps a raw industry code to its level labels.
type IndustryResolver interface {
	Hierarchy(code string) ([]string, bool)
}

// Options configures a Reader.
type Options struct {
	Schema  Schema
	Profile config.ProfileConfig
	Phase   Phase
	// Industry derives levels from the industry code when the level columns
	// are absent or blank. Optional.
	Industry IndustryResolver
	Table    TableOptions
}

// Report describes what a read had to work around.
type Report struct {
	Rows               int            `json:"rows"`
	ZeroFilled         int            `json:"zero_filled_cells"`
	UnknownTiers       map[string]int `json:"unknown_tiers,omitempty"`
	UnresolvedIndustry int            `json:"unresolved_industry"`
}

// Reader turns input rows into policy records.
type Reader struct {
	opts Options
}

// NewReader returns a Reader.
func NewReader(opts Options) *Reader {
	if opts.Phase == "" {
		opts.Phase = PhaseAssess
	}
	return &Reader{opts: opts}
}

// Stream reads path and passes each record to emit. Any data integrity
// problem aborts the whole file.
func (r *Reader) Stream(ctx context.Context, path string, emit func(model.PolicyRecord) error) (Report, error) {
	rep := Report{UnknownTiers: map[string]int{}}
	var binding *Binding

	header, err := StreamTable(ctx, path, r.opts.Table, func(header, row []string, line int) error {
		if binding == nil {
			b, err := r.opts.Schema.Bind(header, r.opts.Phase)
			if err != nil {
				return err
			}
			binding = b
		}
		rec, err := r.Record(binding, row, line, &rep)
		if err != nil {
			return err
		}
		rep.Rows++
		return emit(rec)
	})
	if err != nil {
		return rep, err
	}
	if binding == nil {
		// Header only: still surface missing columns.
		if _, err := r.opts.Schema.Bind(header, r.opts.Phase); err != nil {
			return rep, err
		}
	}

	for tier, n := range rep.UnknownTiers {
		zap.L().Warn("ingest: disability tier not in profile",
			zap.String("tier", tier),
			zap.Int("rows", n),
		)
	}
	if rep.UnresolvedIndustry > 0 {
		zap.L().Warn("ingest: rows without industry levels", zap.Int("rows", rep.UnresolvedIndustry))
	}
	zap.L().Info("ingest: read complete",
		zap.String("path", path),
		zap.Int("rows", rep.Rows),
		zap.Int("zero_filled_cells", rep.ZeroFilled),
	)
	return rep, nil
}

// ReadFile reads all records of path.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]model.PolicyRecord, Report, error) {
	var records []model.PolicyRecord
	rep, err := r.Stream(ctx, path, func(rec model.PolicyRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, rep, err
	}
	return records, rep, nil
}

// Record converts one row. Blank numeric cells are zero and counted in the
// report; any other non-numeric value is a data integrity error.
func (r *Reader) Record(b *Binding, row []string, line int, rep *Report) (model.PolicyRecord, error) {
	if rep == nil {
		rep = &Report{}
	}
	if rep.UnknownTiers == nil {
		rep.UnknownTiers = map[string]int{}
	}
	p := &rowParser{b: b, row: row, line: line, rep: rep}
	rec := model.PolicyRecord{
		PolicyID:       b.Get(row, FieldPolicyID),
		EarnedPremium:  p.number(FieldEarnedPremium),
		WrittenPremium: p.number(FieldWrittenPremium),
		ClaimAmount:    p.number(FieldClaimAmount),
		InsuredAmount:  p.number(FieldInsuredAmount),
		ClaimCount:     p.count(FieldClaimCount),
		InsuredPersons: p.count(FieldInsuredPersons),
		Disability:     b.Get(row, FieldDisability),
		City:           b.Get(row, FieldCity),
		Province:       b.Get(row, FieldProvince),
	}
	if p.err != nil {
		return model.PolicyRecord{}, p.err
	}

	renewal, err := r.opts.Profile.ParseRenewal(b.Get(row, FieldRenewal))
	if err != nil {
		return model.PolicyRecord{}, eris.Wrapf(ErrDataIntegrity, "ingest: line %d: %s", line, err.Error())
	}
	rec.Renewal = renewal

	if !r.opts.Profile.KnownTier(rec.Disability) {
		rep.UnknownTiers[rec.Disability]++
	}

	rec.Industry = r.industry(b, row)
	if len(rec.Industry) == 0 {
		rep.UnresolvedIndustry++
	}

	rec.AmountBracket = NormalizeBracket(b.Get(row, FieldAmountBracket))
	if rec.AmountBracket == "" && b.Has(FieldInsuredAmount) {
		rec.AmountBracket = r.opts.Profile.Bracket(rec.InsuredAmount.InexactFloat64())
	}
	return rec, nil
}

func (r *Reader) industry(b *Binding, row []string) []string {
	levels := make([]string, 0, len(IndustryFields))
	for _, f := range IndustryFields {
		levels = append(levels, b.Get(row, f))
	}
	levels = model.TrimIndustry(levels)
	if len(levels) > 0 || r.opts.Industry == nil {
		return levels
	}

	code := b.Get(row, FieldIndustryCode)
	if code == "" {
		return levels
	}
	if h, ok := r.opts.Industry.Hierarchy(code); ok {
		return model.TrimIndustry(h)
	}
	return levels
}

// NormalizeBracket renders numeric bracket labels in canonical decimal form
// ("200000.00" and "200,000" both become "200000").
func NormalizeBracket(s string) string {
	if s == "" {
		return ""
	}
	if d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "")); err == nil {
		return d.String()
	}
	return s
}

// rowParser keeps the first error of a row so field parsing reads linearly.
type rowParser struct {
	b    *Binding
	row  []string
	line int
	rep  *Report
	err  error
}

var numberCleaner = strings.NewReplacer(",", "", "，", "", " ", "", "¥", "", "￥", "")

func (p *rowParser) number(f Field) decimal.Decimal {
	if p.err != nil || !p.b.Has(f) {
		return decimal.Zero
	}
	raw := p.b.Get(p.row, f)
	s := numberCleaner.Replace(raw)
	if s == "" {
		// Missing numeric values count as zero.
		p.rep.ZeroFilled++
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = eris.Wrapf(ErrDataIntegrity, "ingest: line %d: column %s: %q is not a number", p.line, f, raw)
		return decimal.Zero
	}
	return d
}

func (p *rowParser) count(f Field) int64 {
	d := p.number(f)
	if p.err != nil {
		return 0
	}
	if !d.Equal(d.Truncate(0)) {
		p.err = eris.Wrapf(ErrDataIntegrity, "ingest: line %d: column %s: %s is not a whole number", p.line, f, d)
		return 0
	}
	return d.IntPart()
}
