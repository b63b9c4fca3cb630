package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/industry"
	"github.com/sells-group/risk-surcharge/internal/ingest"
)

var classificationOpts struct {
	Input  string
	Output string
}

var classificationCmd = &cobra.Command{
	Use:   "classification",
	Short: "Convert the flat industry classification export into a JSON tree",
	RunE: func(cmd *cobra.Command, _ []string) error {
		n, err := runClassification(cmd.Context(), cfg, classificationOpts.Input, classificationOpts.Output)
		if err != nil {
			return err
		}
		zap.L().Info("classification written", zap.String("output", classificationOpts.Output), zap.Int("roots", n))
		return nil
	},
}

func runClassification(ctx context.Context, c *config.Config, input, output string) (int, error) {
	if input == "" || output == "" {
		return 0, eris.New("classification: --input and --output are required")
	}
	roots, err := industry.LoadCSV(ctx, input, ingest.TableOptions{Sheet: c.Ingest.Sheet, Encoding: c.Ingest.Encoding})
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return 0, eris.Wrapf(err, "classification: create dir for %s", output)
	}
	f, err := os.Create(output)
	if err != nil {
		return 0, eris.Wrapf(err, "classification: create %s", output)
	}
	defer f.Close() //nolint:errcheck

	if err := industry.WriteJSON(f, roots); err != nil {
		return 0, err
	}
	return len(roots), f.Close()
}

func init() {
	classificationCmd.Flags().StringVar(&classificationOpts.Input, "input", "", "flat classification export (.csv or .xlsx)")
	classificationCmd.Flags().StringVar(&classificationOpts.Output, "output", "", "JSON tree to write")
	rootCmd.AddCommand(classificationCmd)
}
