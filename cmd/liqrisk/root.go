package main

import (
	"errors"
	"fmt"
	"io"

	"liqrisk/internal/bootstrap"
	"liqrisk/internal/core"
	"liqrisk/pkg/cli"
	"liqrisk/pkg/logging"
	"liqrisk/pkg/riskclient"

	"github.com/spf13/cobra"
)

const (
	exitOK          = 0
	exitEngineError = 1
	exitUsageError  = 2
)

// usageError marks bad flags, unparseable values and config failures
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usage(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsageError
	default:
		return exitEngineError
	}
}

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "liqrisk",
		Short: "Liquidation risk calculator for lending positions",
		Long: `liqrisk derives how far collateral and debt prices may move before a
position reaches a target health factor or loan-to-value ratio.`,
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usage(err)
	})

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log to stderr at this level (silent when empty)")

	root.AddCommand(
		newComputeCmd(opts),
		newSweepCmd(opts),
		newExportCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// loadConfig reads --config; failures are usage errors
func (o *rootOptions) loadConfig() (*bootstrap.Config, error) {
	if o.configPath != "" {
		if err := cli.ValidateInput(o.configPath); err != nil {
			return nil, usage(fmt.Errorf("--config: %w", err))
		}
	}
	cfg, err := bootstrap.LoadConfig(o.configPath)
	if err != nil {
		return nil, usage(err)
	}
	return cfg, nil
}

func (o *rootOptions) logger() (core.ILogger, error) {
	if o.logLevel == "" {
		return logging.NewNopLogger(), nil
	}
	logger, err := logging.NewZapLoggerWithWriter(o.logLevel, o.errOut)
	if err != nil {
		return nil, usage(err)
	}
	return logger, nil
}

func remoteClient(baseURL string, cfg *bootstrap.Config) (*riskclient.Client, error) {
	if err := cli.ValidateInput(baseURL); err != nil {
		return nil, usage(fmt.Errorf("--remote: %w", err))
	}
	return riskclient.NewClient(baseURL, cfg.Client.Timeout()), nil
}
