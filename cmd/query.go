package main

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sells-group/risk-surcharge/internal/config"
	"github.com/sells-group/risk-surcharge/internal/ingest"
	"github.com/sells-group/risk-surcharge/internal/model"
)

type queryOptions struct {
	Scores       string
	Run          string
	Industry     []string
	IndustryCode string
	Disability   string
	Bracket      string
	Amount       float64
	Renewal      string
}

var queryOpts queryOptions

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Resolve the surcharge of a single condition combination",
	Example: `  risk-surcharge query --scores output/risk_assessment.json \
    --industry "01-农业,011-谷物种植" --disability "十级伤残:5%" --bracket 200000 --renewal 续保`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := queryOpts
		if !cmd.Flags().Changed("amount") {
			opts.Amount = -1
		}
		return runQuery(cmd.Context(), cfg, opts, cmd.OutOrStdout())
	},
}

func runQuery(ctx context.Context, c *config.Config, opts queryOptions, out io.Writer) error {
	e, err := newEnv(c, "query")
	if err != nil {
		return err
	}
	rec, err := queryRecord(e, opts)
	if err != nil {
		return err
	}
	_, entries, err := lookupSource(ctx, e, applyOptions{Scores: opts.Scores, Run: opts.Run})
	if err != nil {
		return err
	}
	res, err := newResolver(e, entries)
	if err != nil {
		return err
	}

	o := res.Outcome(0, rec)
	if err := writeIndented(out, o); err != nil {
		return eris.Wrap(err, "query: encode outcome")
	}
	if !o.Matched() {
		return eris.Errorf("query: %s", o.NotFound)
	}
	return nil
}

func queryRecord(e *env, opts queryOptions) (model.PolicyRecord, error) {
	rec := model.PolicyRecord{
		Disability: strings.TrimSpace(opts.Disability),
		Industry:   model.TrimIndustry(opts.Industry),
	}
	if len(rec.Industry) == 0 && opts.IndustryCode != "" {
		if e.industry == nil {
			return rec, eris.New("query: --industry-code needs a profile classification")
		}
		levels, ok := e.industry.Hierarchy(opts.IndustryCode)
		if !ok {
			return rec, eris.Errorf("query: unknown industry code %q", opts.IndustryCode)
		}
		rec.Industry = levels
	}

	switch {
	case strings.TrimSpace(opts.Bracket) != "":
		rec.AmountBracket = ingest.NormalizeBracket(strings.TrimSpace(opts.Bracket))
	case opts.Amount >= 0:
		rec.InsuredAmount = decimal.NewFromFloat(opts.Amount)
		rec.AmountBracket = e.profile.Bracket(opts.Amount)
	default:
		return rec, eris.New("query: --bracket or --amount is required")
	}

	renewal, err := e.profile.ParseRenewal(opts.Renewal)
	if err != nil {
		return rec, eris.Wrap(err, "query: --renewal")
	}
	rec.Renewal = renewal
	return rec, nil
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryOpts.Scores, "scores", "", "assessment JSON document holding the lookup table")
	f.StringVar(&queryOpts.Run, "run", "", "assessment run id in the store (default: latest completed)")
	f.StringSliceVar(&queryOpts.Industry, "industry", nil, "industry level labels, level 1 first")
	f.StringVar(&queryOpts.IndustryCode, "industry-code", "", "raw industry code resolved through the classification")
	f.StringVar(&queryOpts.Disability, "disability", "", "disability tier label")
	f.StringVar(&queryOpts.Bracket, "bracket", "", "insured amount bracket")
	f.Float64Var(&queryOpts.Amount, "amount", 0, "insured amount, bucketed by the profile brackets")
	f.StringVar(&queryOpts.Renewal, "renewal", "", "renewal label of the profile, or true/false")
	_ = queryCmd.MarkFlagRequired("renewal")
	rootCmd.AddCommand(queryCmd)
}
