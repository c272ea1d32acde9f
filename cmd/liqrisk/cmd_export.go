package main

import (
	"bytes"
	"fmt"
	"os"

	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/cli"
	"liqrisk/pkg/report"

	"github.com/spf13/cobra"
)

type exportOptions struct {
	*rootOptions
	scenario scenarioFlags
	output   string
}

func newExportCmd(root *rootOptions) *cobra.Command {
	opts := &exportOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the combined-move curve as CSV",
		Long: `Write the combined-move curve as CSV with the columns debt_increase and
collateral_decrease, both in percent. The default file name is liquidation_scenarios_<mode>.csv; use -o - for stdout.`,
		Example: `  liqrisk export --mode ltv --initial 60% --final 85%
  liqrisk export --mode hf --initial 1.5 --final 1.0 -o curve.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}
	opts.scenario.register(cmd, string(liquidation.ModeHealthFactor))
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (- for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, opts *exportOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	in, err := opts.scenario.inputs()
	if err != nil {
		return err
	}

	path := opts.output
	if path == "" {
		path = report.CurveFileName(in.Mode)
	}
	if err := cli.ValidateInput(path); err != nil {
		return usage(fmt.Errorf("--output: %w", err))
	}

	var (
		data   []byte
		points int
	)
	if opts.scenario.remote != "" {
		client, err := remoteClient(opts.scenario.remote, cfg)
		if err != nil {
			return err
		}
		if data, _, err = client.CurveCSV(cmd.Context(), in); err != nil {
			return err
		}
		points = bytes.Count(data, []byte("\n")) - 1
	} else {
		calc, err := opts.calculator(cfg)
		if err != nil {
			return err
		}
		res, err := calc.Compute(cmd.Context(), in)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := report.WriteCurveCSV(&buf, res.Curve); err != nil {
			return err
		}
		data, points = buf.Bytes(), len(res.Curve)
	}

	if path == "-" {
		_, err := opts.out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(opts.out, "Wrote %d scenarios to %s\n", points, path)
	return nil
}
