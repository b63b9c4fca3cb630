package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/export"
	"github.com/sells-group/risk-surcharge/internal/industry"
	"github.com/sells-group/risk-surcharge/internal/ingest"
)

type preprocessOptions struct {
	Input          string
	Classification string
	Output         string
	Report         string
}

type preprocessResult struct {
	Rows       int
	Enriched   int
	Unresolved int
	Columns    []ingest.ColumnCompleteness
}

var preprocessOpts preprocessOptions

var preprocessCmd = &cobra.Command{
	Use:   "preprocess",
	Short: "Fill industry level columns from industry codes and report column completeness",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := preprocessOpts
		if opts.Output == "" {
			opts.Output = filepath.Join(cfg.Export.OutputDir, "preprocessed.csv")
		}
		if opts.Report == "" {
			opts.Report = filepath.Join(cfg.Export.OutputDir, "completeness.csv")
		}
		res, err := runPreprocess(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		zap.L().Info("preprocess complete",
			zap.String("output", opts.Output),
			zap.Int("rows", res.Rows),
			zap.Int("enriched", res.Enriched),
			zap.Int("unresolved", res.Unresolved),
		)
		return nil
	},
}

// loadIndex reads a classification in either the JSON tree or the flat CSV
// export form.
func loadIndex(ctx context.Context, e *env, path string) (*industry.Index, error) {
	if path == "" {
		if e.industry == nil {
			return nil, eris.Wrap(config.ErrConfiguration, "preprocess: no classification given and none in the profile")
		}
		return e.industry, nil
	}
	var (
		roots []*industry.Node
		err   error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		roots, err = industry.LoadJSON(path)
	} else {
		roots, err = industry.LoadCSV(ctx, path, ingest.TableOptions{Encoding: e.cfg.Ingest.Encoding})
	}
	if err != nil {
		return nil, err
	}
	return industry.NewIndex(roots, e.profile.FormatIndustry), nil
}

func runPreprocess(ctx context.Context, c *config.Config, opts preprocessOptions) (*preprocessResult, error) {
	if opts.Input == "" {
		return nil, eris.New("preprocess: --input is required")
	}
	e, err := newEnv(c, "apply")
	if err != nil {
		return nil, err
	}
	idx, err := loadIndex(ctx, e, opts.Classification)
	if err != nil {
		return nil, err
	}
	schema, err := ingest.NewSchema(c.Ingest.Columns)
	if err != nil {
		return nil, err
	}

	header, rows, err := ingest.ReadTable(ctx, opts.Input, ingest.TableOptions{Sheet: c.Ingest.Sheet, Encoding: c.Ingest.Encoding})
	if err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	codeCol, ok := pos[schema.Columns[ingest.FieldIndustryCode]]
	if !ok {
		return nil, eris.Wrapf(ingest.ErrDataIntegrity, "preprocess: %s: missing column %s", opts.Input, schema.Columns[ingest.FieldIndustryCode])
	}

	levelCols := make([]int, len(ingest.IndustryFields))
	for i, f := range ingest.IndustryFields {
		name := schema.Columns[f]
		j, ok := pos[name]
		if !ok {
			j = len(header)
			header = append(header, name)
		}
		levelCols[i] = j
	}

	res := &preprocessResult{Rows: len(rows)}
	for r, row := range rows {
		if len(row) < len(header) {
			row = append(row, make([]string, len(header)-len(row))...)
			rows[r] = row
		}
		code := strings.TrimSpace(row[codeCol])
		if code == "" {
			continue
		}
		levels, ok := idx.Hierarchy(code)
		if !ok {
			res.Unresolved++
			continue
		}
		for i, j := range levelCols {
			if i < len(levels) {
				row[j] = levels[i]
			} else {
				row[j] = ""
			}
		}
		res.Enriched++
	}

	var check []string
	for _, f := range []ingest.Field{
		ingest.FieldEarnedPremium, ingest.FieldClaimCount, ingest.FieldClaimAmount,
		ingest.FieldInsuredPersons, ingest.FieldRenewal, ingest.FieldDisability,
		ingest.FieldIndustry1, ingest.FieldIndustry2, ingest.FieldInsuredAmount, ingest.FieldAmountBracket,
	} {
		check = append(check, schema.Columns[f])
	}
	res.Columns = ingest.Completeness(header, rows, check)

	if err := writeTable(opts.Output, export.RawTable("preprocessed", header, rows)); err != nil {
		return nil, err
	}
	if err := writeTable(opts.Report, export.CompletenessTable(res.Columns)); err != nil {
		return nil, err
	}
	return res, nil
}

// writeTable picks the writer from the file extension.
func writeTable(path string, t export.Table) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return export.WriteXLSX(path, []export.Table{t})
	}
	return export.WriteCSV(path, t)
}

func init() {
	f := preprocessCmd.Flags()
	f.StringVar(&preprocessOpts.Input, "input", "", "raw order export (.csv or .xlsx)")
	f.StringVar(&preprocessOpts.Classification, "classification", "", "classification tree (.json) or flat export (.csv/.xlsx); default: profile classification")
	f.StringVar(&preprocessOpts.Output, "output", "", "enriched file (.csv or .xlsx)")
	f.StringVar(&preprocessOpts.Report, "report", "", "completeness report (.csv or .xlsx)")
	rootCmd.AddCommand(preprocessCmd)
}
