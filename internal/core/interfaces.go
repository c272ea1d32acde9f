// Package core defines the core interfaces for the liquidation risk system
package core

import (
	"context"

	"liqrisk/internal/risk/liquidation"
)

// IRiskCalculator computes liquidation risk for a single input tuple
type IRiskCalculator interface {
	Compute(ctx context.Context, in liquidation.Inputs) (liquidation.Result, error)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
