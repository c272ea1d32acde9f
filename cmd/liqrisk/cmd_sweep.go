package main

import (
	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/cli"
	"liqrisk/pkg/concurrency"
	"liqrisk/pkg/liveserver"
	"liqrisk/pkg/ux"

	"github.com/spf13/cobra"
)

type sweepOptions struct {
	*rootOptions
	mode    string
	initial string
	from    string
	to      string
	step    string
	lltv    string
	remote  string
	json    bool
}

func newSweepCmd(root *rootOptions) *cobra.Command {
	opts := &sweepOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate a range of target values against one starting position",
		Example: `  liqrisk sweep --mode hf --initial 1.5 --from 0.5 --to 1.5 --step 0.1
  liqrisk sweep --mode ltv --initial 60% --from 60% --to 95% --step 5%`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", string(liquidation.ModeHealthFactor), "Target type: hf or ltv")
	cmd.Flags().StringVar(&opts.initial, "initial", "", "Current health factor or LTV")
	cmd.Flags().StringVar(&opts.from, "from", "", "First target value")
	cmd.Flags().StringVar(&opts.to, "to", "", "Last target value")
	cmd.Flags().StringVar(&opts.step, "step", "", "Distance between targets")
	cmd.Flags().StringVar(&opts.lltv, "lltv", "", "Liquidation LTV for ltv mode")
	cmd.Flags().StringVar(&opts.remote, "remote", "", "Evaluate against a liqrisk server at this base URL")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print rows as JSON")
	return cmd
}

func (o *sweepOptions) request() (risk.SweepRequest, error) {
	mode, err := cli.ParseMode(o.mode)
	if err != nil {
		return risk.SweepRequest{}, usage(err)
	}
	req := risk.SweepRequest{Mode: mode}

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"initial", o.initial, &req.Initial},
		{"from", o.from, &req.From},
		{"to", o.to, &req.To},
		{"step", o.step, &req.Step},
	}
	for _, f := range fields {
		if *f.dst, err = cli.ParseValue(f.name, f.raw); err != nil {
			return risk.SweepRequest{}, usage(err)
		}
	}
	if o.lltv != "" {
		if req.LLTV, err = cli.ParseValue("lltv", o.lltv); err != nil {
			return risk.SweepRequest{}, usage(err)
		}
	}

	if _, err := req.Targets(); err != nil {
		return risk.SweepRequest{}, usage(err)
	}
	return req, nil
}

func runSweep(cmd *cobra.Command, opts *sweepOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}

	var rows []risk.SweepRow
	if opts.remote != "" {
		client, err := remoteClient(opts.remote, cfg)
		if err != nil {
			return err
		}
		if rows, err = client.Sweep(cmd.Context(), req); err != nil {
			return err
		}
	} else {
		logger, err := opts.logger()
		if err != nil {
			return err
		}
		pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "sweep",
			MaxWorkers:  cfg.Concurrency.SweepPoolSize,
			MaxCapacity: cfg.Concurrency.SweepPoolBuffer,
		}, logger)
		defer pool.Stop()

		calc := risk.NewCalculator(cfg.Engine.NewEngine(), pool, logger)
		if rows, err = calc.Sweep(cmd.Context(), req); err != nil {
			return err
		}
	}

	if opts.json {
		return writeJSON(opts.out, liveserver.SweepResponse{Mode: req.Mode, Rows: rows})
	}
	ux.Print(opts.out, ux.RenderSweep(req.Mode, rows))
	return nil
}
