package main

import (
	"encoding/json"
	"io"

	"liqrisk/internal/bootstrap"
	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/cli"
	"liqrisk/pkg/report"
	"liqrisk/pkg/riskclient"
	"liqrisk/pkg/ux"

	"github.com/spf13/cobra"
)

// scenarioFlags are the inputs shared by compute and export
type scenarioFlags struct {
	mode    string
	initial string
	final   string
	lltv    string

	maxDebtIncrease float64
	stepPct         float64
	remote          string
}

func (f *scenarioFlags) register(cmd *cobra.Command, defaultMode string) {
	cmd.Flags().StringVar(&f.mode, "mode", defaultMode, "Target type: hf or ltv")
	cmd.Flags().StringVar(&f.initial, "initial", "", "Current health factor or LTV (e.g. 1.5 or 60%)")
	cmd.Flags().StringVar(&f.final, "final", "", "Target health factor or LTV")
	cmd.Flags().StringVar(&f.lltv, "lltv", "", "Liquidation LTV for ltv mode (config default when empty)")
	cmd.Flags().Float64Var(&f.maxDebtIncrease, "max-debt-increase", 0, "Largest debt increase sampled on the curve, in percent")
	cmd.Flags().Float64Var(&f.stepPct, "step", 0, "Curve sampling step, in percent")
	cmd.Flags().StringVar(&f.remote, "remote", "", "Evaluate against a liqrisk server at this base URL")
}

// inputs parses the flags; parse failures are usage errors
func (f *scenarioFlags) inputs() (liquidation.Inputs, error) {
	in, err := cli.BuildInputs(f.mode, f.initial, f.final, f.lltv)
	if err != nil {
		return liquidation.Inputs{}, usage(err)
	}
	in.Curve = liquidation.CurveOptions{
		MaxDebtIncreasePct: f.maxDebtIncrease,
		StepPct:            f.stepPct,
	}
	return in, nil
}

type computeOptions struct {
	*rootOptions
	scenario   scenarioFlags
	json       bool
	curveEvery int
}

func newComputeCmd(root *rootOptions) *cobra.Command {
	opts := &computeOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the price moves that reach a target health factor or LTV",
		Example: `  liqrisk compute --mode hf --initial 1.5 --final 1.0
  liqrisk compute --mode ltv --initial 60% --final 85% --lltv 0.9 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompute(cmd, opts)
		},
	}
	opts.scenario.register(cmd, string(liquidation.ModeHealthFactor))
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")
	cmd.Flags().IntVar(&opts.curveEvery, "curve-every", 10, "Print every Nth curve sample (0 hides the curve)")
	return cmd
}

func runCompute(cmd *cobra.Command, opts *computeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	in, err := opts.scenario.inputs()
	if err != nil {
		return err
	}

	var resp riskclient.ComputeResponse
	if opts.scenario.remote != "" {
		client, err := remoteClient(opts.scenario.remote, cfg)
		if err != nil {
			return err
		}
		if resp, err = client.Compute(cmd.Context(), in); err != nil {
			return err
		}
	} else {
		calc, err := opts.calculator(cfg)
		if err != nil {
			return err
		}
		res, err := calc.Compute(cmd.Context(), in)
		if err != nil {
			return err
		}
		resp = riskclient.ComputeResponse{Result: res, Summary: report.Summarize(in, res)}
	}

	if opts.json {
		return writeJSON(opts.out, resp)
	}

	ux.Print(opts.out, ux.RenderSummary(resp.Summary))
	if opts.curveEvery > 0 {
		ux.Print(opts.out, ux.RenderCurve(resp.Result.Curve, opts.curveEvery))
	}
	return nil
}

// calculator builds a sequential calculator carrying the config's engine defaults
func (o *rootOptions) calculator(cfg *bootstrap.Config) (*risk.Calculator, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, err
	}
	return risk.NewCalculator(cfg.Engine.NewEngine(), nil, logger), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
