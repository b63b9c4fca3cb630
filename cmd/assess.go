package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/aggregate"
	"github.com/sells-group/risk-surcharge/internal/assess"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/export"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/scoring"
	"github.com/sells-group/risk-surcharge/internal/store"
)

type assessOptions struct {
	Input     string
	OutputDir string
	JSON      bool
	JSONPath  string
	SkipExcel bool
	Save      bool
}

type assessResult struct {
	RunID     string
	Workbook  string
	Document  string
	Records   int
	Leaves    int
	Conflicts int
}

var assessOpts assessOptions

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Score historical policy data and build the surcharge lookup table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := assessOpts
		if !cmd.Flags().Changed("output-dir") {
			opts.OutputDir = cfg.Export.OutputDir
		}
		opts.JSON = opts.JSON || cfg.Export.JSON
		opts.SkipExcel = opts.SkipExcel || cfg.Export.SkipExcel
		if opts.JSONPath == "" {
			opts.JSONPath = cfg.Export.JSONPath
		}

		res, err := runAssess(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		zap.L().Info("assessment complete",
			zap.String("run_id", res.RunID),
			zap.Int("records", res.Records),
			zap.Int("leaves", res.Leaves),
			zap.Int("conflicts", res.Conflicts),
			zap.String("workbook", res.Workbook),
			zap.String("document", res.Document),
		)
		return nil
	},
}

func runAssess(ctx context.Context, c *config.Config, opts assessOptions) (*assessResult, error) {
	if opts.Input == "" {
		return nil, eris.New("assess: --input is required")
	}
	e, err := newEnv(c, "assess")
	if err != nil {
		return nil, err
	}
	specs, err := aggregate.ParseSpecs(c.Analyses)
	if err != nil {
		return nil, err
	}
	calc, err := scoring.NewCalculator(c.Scoring)
	if err != nil {
		return nil, err
	}
	reader, err := e.reader(ingest.PhaseAssess)
	if err != nil {
		return nil, err
	}

	var (
		st    store.Store
		runID = uuid.New().String()
	)
	if opts.Save {
		st, err = e.openStore(ctx)
		if err != nil {
			return nil, err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, model.RunKindAssess, c.ActiveProfile, opts.Input)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	res, err := assessRun(ctx, e, reader, assess.Options{Specs: specs, Calculator: calc, Transform: e.transform}, st, runID, opts)
	if err != nil && st != nil {
		if ferr := st.FailRun(ctx, runID, err.Error()); ferr != nil {
			zap.L().Warn("assess: record failed run", zap.Error(ferr))
		}
	}
	return res, err
}

func assessRun(ctx context.Context, e *env, reader *ingest.Reader, aopts assess.Options, st store.Store, runID string, opts assessOptions) (*assessResult, error) {
	records, ingestRep, err := reader.ReadFile(ctx, opts.Input)
	if err != nil {
		return nil, err
	}
	zap.L().Info("assess: input loaded",
		zap.String("input", opts.Input),
		zap.Int("records", len(records)),
		zap.Int("zero_filled", ingestRep.ZeroFilled),
	)

	rep, err := assess.Run(records, aopts)
	if err != nil {
		return nil, err
	}

	doc := export.NewAssessmentDocument(runID, e.cfg.ActiveProfile, opts.Input, rep, time.Now())
	res := &assessResult{
		RunID:     runID,
		Records:   rep.Records,
		Leaves:    rep.Tree.Len(),
		Conflicts: len(rep.Conflicts),
	}

	if !opts.SkipExcel {
		res.Workbook = filepath.Join(opts.OutputDir, "risk_assessment.xlsx")
		if err := export.WriteXLSX(res.Workbook, doc.Tables()); err != nil {
			return nil, err
		}
	}
	if opts.JSON || opts.JSONPath != "" {
		res.Document = opts.JSONPath
		if res.Document == "" {
			res.Document = filepath.Join(opts.OutputDir, "risk_assessment.json")
		}
		if err := export.WriteJSON(res.Document, doc); err != nil {
			return nil, err
		}
	}

	if st != nil {
		if err := st.SaveLookupTable(ctx, runID, doc.Lookup); err != nil {
			return nil, err
		}
		summary := map[string]any{
			"records":     rep.Records,
			"leaves":      res.Leaves,
			"conflicts":   res.Conflicts,
			"analyses":    len(rep.Analyses),
			"zero_filled": ingestRep.ZeroFilled,
		}
		if err := st.CompleteRun(ctx, runID, summary); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func init() {
	f := assessCmd.Flags()
	f.StringVar(&assessOpts.Input, "input", "", "historical policy data (.csv or .xlsx)")
	f.StringVar(&assessOpts.OutputDir, "output-dir", "output", "directory for result files")
	f.BoolVar(&assessOpts.JSON, "json", false, "also write the consolidated JSON document")
	f.StringVar(&assessOpts.JSONPath, "json-path", "", "path of the JSON document (implies --json)")
	f.BoolVar(&assessOpts.SkipExcel, "skip-excel", false, "do not write the XLSX workbook")
	f.BoolVar(&assessOpts.Save, "save", false, "record the run and its lookup table in the store")
	rootCmd.AddCommand(assessCmd)
}
