package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/risk-surcharge/internal/conditiontree"
	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/export"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/resolve"
	"github.com/sells-group/risk-surcharge/internal/store"
)

// Output formats of the apply command.
const (
	formatXLSX  = "xlsx"
	formatCSV   = "csv"
	formatJSON  = "json"
	formatJSONL = "jsonl"
)

type applyOptions struct {
	Input  string
	Scores string
	Run    string
	Output string
	Format string
	Save   bool
}

var applyOpts applyOptions

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Resolve surcharge coefficients for new policies",
	Long: "Loads a lookup table from an assessment document (--scores) or the store (--run) " +
		"and resolves each input policy through the configured match modes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := applyOpts
		if opts.Output == "" {
			opts.Output = filepath.Join(cfg.Export.OutputDir, "surcharge_results."+opts.Format)
		}
		summary, err := runApply(cmd.Context(), cfg, opts)
		if err != nil {
			return err
		}
		zap.L().Info("application complete",
			zap.String("output", opts.Output),
			zap.Int("records", summary.Total),
			zap.Int("matched", summary.Matched()),
			zap.Float64("match_rate", summary.MatchRate()),
		)
		return nil
	},
}

// lookupSource loads the lookup table named by opts.
func lookupSource(ctx context.Context, e *env, opts applyOptions) (string, []conditiontree.Entry, error) {
	if opts.Scores != "" {
		doc, err := export.ReadAssessment(opts.Scores)
		if err != nil {
			return "", nil, err
		}
		return doc.RunID, doc.Lookup, nil
	}
	st, err := e.openStore(ctx)
	if err != nil {
		return "", nil, err
	}
	defer st.Close() //nolint:errcheck
	return st.LoadLookupTable(ctx, opts.Run)
}

func newResolver(e *env, entries []conditiontree.Entry) (*resolve.Resolver, error) {
	tree, err := conditiontree.FromEntries(entries)
	if err != nil {
		return nil, err
	}
	opts, err := e.resolveOptions()
	if err != nil {
		return nil, err
	}
	return resolve.New(tree, e.transform, opts)
}

func runApply(ctx context.Context, c *config.Config, opts applyOptions) (resolve.Summary, error) {
	if opts.Input == "" {
		return resolve.Summary{}, eris.New("apply: --input is required")
	}
	if opts.Scores != "" && opts.Run != "" {
		return resolve.Summary{}, eris.New("apply: --scores and --run are mutually exclusive")
	}
	switch opts.Format {
	case formatXLSX, formatCSV, formatJSON, formatJSONL:
	default:
		return resolve.Summary{}, eris.Errorf("apply: unknown format %q", opts.Format)
	}

	e, err := newEnv(c, "apply")
	if err != nil {
		return resolve.Summary{}, err
	}
	sourceRun, entries, err := lookupSource(ctx, e, opts)
	if err != nil {
		return resolve.Summary{}, err
	}
	res, err := newResolver(e, entries)
	if err != nil {
		return resolve.Summary{}, err
	}
	reader, err := e.reader(ingest.PhaseApply)
	if err != nil {
		return resolve.Summary{}, err
	}

	var (
		st    store.Store
		runID = uuid.New().String()
	)
	if opts.Save {
		st, err = e.openStore(ctx)
		if err != nil {
			return resolve.Summary{}, err
		}
		defer st.Close() //nolint:errcheck
		run, err := st.CreateRun(ctx, model.RunKindApply, c.ActiveProfile, opts.Input)
		if err != nil {
			return resolve.Summary{}, err
		}
		runID = run.ID
	}

	var summary resolve.Summary
	if opts.Format == formatJSONL {
		summary, err = streamApply(ctx, reader, res, opts)
	} else {
		summary, err = batchApply(ctx, e, reader, res, runID, opts)
	}

	if st != nil {
		if err != nil {
			if ferr := st.FailRun(ctx, runID, err.Error()); ferr != nil {
				zap.L().Warn("apply: record failed run", zap.Error(ferr))
			}
			return summary, err
		}
		m := summary.Map()
		m["source_run"] = sourceRun
		m["output"] = opts.Output
		if cerr := st.CompleteRun(ctx, runID, m); cerr != nil {
			return summary, cerr
		}
	}
	return summary, err
}

func batchApply(ctx context.Context, e *env, reader *ingest.Reader, res *resolve.Resolver, runID string, opts applyOptions) (resolve.Summary, error) {
	records, _, err := reader.ReadFile(ctx, opts.Input)
	if err != nil {
		return resolve.Summary{}, err
	}
	outcomes, summary, err := res.ResolveAll(ctx, records)
	if err != nil {
		return resolve.Summary{}, err
	}

	doc := export.ApplicationDocument{
		Version:     export.DocumentVersion,
		RunID:       runID,
		Profile:     e.cfg.ActiveProfile,
		Input:       opts.Input,
		Scores:      opts.Scores,
		GeneratedAt: time.Now().UTC(),
		Summary:     summary,
		Outcomes:    outcomes,
	}

	switch opts.Format {
	case formatXLSX:
		err = export.WriteXLSX(opts.Output, doc.Tables())
	case formatCSV:
		err = export.WriteCSV(opts.Output, export.OutcomeTable(outcomes))
	case formatJSON:
		err = export.WriteJSON(opts.Output, doc)
	}
	return summary, err
}

// streamApply reads, resolves and writes one JSON line per record without
// holding the whole file in memory.
func streamApply(ctx context.Context, reader *ingest.Reader, res *resolve.Resolver, opts applyOptions) (resolve.Summary, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return resolve.Summary{}, eris.Wrapf(err, "apply: create dir for %s", opts.Output)
	}
	f, err := os.Create(opts.Output)
	if err != nil {
		return resolve.Summary{}, eris.Wrapf(err, "apply: create %s", opts.Output)
	}
	defer f.Close() //nolint:errcheck

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	records := make(chan model.PolicyRecord, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		_, err := reader.Stream(gctx, opts.Input, func(rec model.PolicyRecord) error {
			select {
			case records <- rec:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		return err
	})

	var summary resolve.Summary
	g.Go(func() error {
		var err error
		summary, err = res.Stream(gctx, records, func(o model.Outcome) error {
			return enc.Encode(o)
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := w.Flush(); err != nil {
		return summary, eris.Wrapf(err, "apply: flush %s", opts.Output)
	}
	return summary, f.Close()
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&applyOpts.Input, "input", "", "new policy data (.csv or .xlsx)")
	f.StringVar(&applyOpts.Scores, "scores", "", "assessment JSON document holding the lookup table")
	f.StringVar(&applyOpts.Run, "run", "", "assessment run id in the store (default: latest completed)")
	f.StringVar(&applyOpts.Output, "output", "", "result file (default: <output_dir>/surcharge_results.<format>)")
	f.StringVar(&applyOpts.Format, "format", formatXLSX, "output format: "+strings.Join([]string{formatXLSX, formatCSV, formatJSON, formatJSONL}, ", "))
	f.BoolVar(&applyOpts.Save, "save", false, "record the run in the store")
	rootCmd.AddCommand(applyCmd)
}
