package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/model"
	"github.com/sells-group/risk-surcharge/internal/store"
)

var runsFilter store.RunFilter

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "List recorded runs, or show one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return runRuns(cmd.Context(), cfg, id, runsFilter, cmd.OutOrStdout())
	},
}

func runRuns(ctx context.Context, c *config.Config, id string, filter store.RunFilter, out io.Writer) error {
	e, err := newEnv(c, "query")
	if err != nil {
		return err
	}
	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if id != "" {
		run, err := st.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return writeIndented(out, run)
	}

	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []model.Run{}
	}
	return writeIndented(out, runs)
}

func init() {
	f := runsCmd.Flags()
	f.StringVar((*string)(&runsFilter.Kind), "kind", "", "filter by kind (assess, apply)")
	f.StringVar((*string)(&runsFilter.Status), "status", "", "filter by status (running, complete, failed)")
	f.IntVar(&runsFilter.Limit, "limit", 20, "maximum runs to list")
	f.IntVar(&runsFilter.Offset, "offset", 0, "runs to skip")
	rootCmd.AddCommand(runsCmd)
}
