package main

import (
	"io"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/export"
	"github.com/sells-group/risk-surcharge/internal/surcharge"
)

var surchargeOpts struct {
	Scores []float64
	Weight float64
	Output string
}

var surchargeCmd = &cobra.Command{
	Use:   "surcharge",
	Short: "Print the surcharge curve at the given risk scores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := *cfg
		if cmd.Flags().Changed("weight") {
			c.Surcharge.Weight = surchargeOpts.Weight
		}
		return runSurcharge(&c, surchargeOpts.Scores, surchargeOpts.Output, cmd.OutOrStdout())
	},
}

func runSurcharge(c *config.Config, scores []float64, output string, out io.Writer) error {
	if len(scores) == 0 {
		return eris.New("surcharge: at least one score is required")
	}
	tr, err := surcharge.New(c.Surcharge)
	if err != nil {
		return err
	}
	rows := tr.Table(scores)
	if output != "" {
		if filepath.Ext(output) == ".json" {
			return export.WriteJSON(output, rows)
		}
		return writeTable(output, export.SurchargeTable(rows))
	}
	return writeIndented(out, rows)
}

func init() {
	f := surchargeCmd.Flags()
	f.Float64SliceVar(&surchargeOpts.Scores, "scores", []float64{0, 20, 40, 60, 80, 100}, "risk scores to evaluate")
	f.Float64Var(&surchargeOpts.Weight, "weight", 1, "surcharge weight (default from config)")
	f.StringVar(&surchargeOpts.Output, "output", "", "write the table to a .csv, .xlsx or .json file instead of stdout")
	rootCmd.AddCommand(surchargeCmd)
}
