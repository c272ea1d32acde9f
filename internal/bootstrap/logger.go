package bootstrap

import (
	"io"

	"liqrisk/pkg/logging"
)

// InitLogger builds the zap logger for cfg and installs it globally
func InitLogger(cfg *Config, w io.Writer) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLoggerWithWriter(cfg.System.LogLevel, w)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
