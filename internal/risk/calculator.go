// Package risk exposes the liquidation engine as an observable service
package risk

import (
	"context"
	"errors"
	"time"

	"liqrisk/internal/core"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/concurrency"
	apperrors "liqrisk/pkg/errors"
	"liqrisk/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Failure kinds recorded on the failures counter
const (
	FailureInvalidInput    = "invalid_input"
	FailureDegenerateRatio = "degenerate_ratio"
	FailureCancelled       = "cancelled"
	FailureUnknown         = "unknown"
)

// Calculator wraps the pure engine with tracing, metrics and logging
type Calculator struct {
	engine  *liquidation.Engine
	pool    *concurrency.WorkerPool
	logger  core.ILogger
	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

var _ core.IRiskCalculator = (*Calculator)(nil)

// NewCalculator creates a calculator. A nil engine uses the engine defaults;
// a nil pool evaluates sweeps sequentially.
func NewCalculator(engine *liquidation.Engine, pool *concurrency.WorkerPool, logger core.ILogger) *Calculator {
	if engine == nil {
		engine = liquidation.NewEngine()
	}
	return &Calculator{
		engine:  engine,
		pool:    pool,
		logger:  logger.WithField("component", "risk_calculator"),
		tracer:  telemetry.GetTracer("risk-calculator"),
		metrics: telemetry.GetGlobalMetrics(),
	}
}

// Compute evaluates one input snapshot
func (c *Calculator) Compute(ctx context.Context, in liquidation.Inputs) (liquidation.Result, error) {
	ctx, span := c.tracer.Start(ctx, "Compute",
		trace.WithAttributes(
			attribute.String("mode", string(in.Mode)),
			attribute.Float64("initial", in.Initial()),
			attribute.Float64("final", in.Final()),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		c.recordFailure(ctx, span, in, err)
		return liquidation.Result{}, err
	}

	start := time.Now()
	res, err := c.engine.Compute(in)
	if err != nil {
		c.recordFailure(ctx, span, in, err)
		return liquidation.Result{}, err
	}
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(
		attribute.Float64("ratio", res.Ratio),
		attribute.Int("curve_points", len(res.Curve)),
		attribute.Bool("liquidatable", res.Liquidatable),
	)
	c.metrics.RecordComputation(ctx, string(res.Mode), res.Ratio, len(res.Curve), res.Liquidatable, latencyMs)

	c.logger.Debug("Risk computed",
		"inputs", in.String(),
		"ratio", res.Ratio,
		"debt_only_pct", res.DebtOnlyPct,
		"collateral_only_pct", res.CollateralOnlyPct,
		"liquidatable", res.Liquidatable)

	return res, nil
}

func (c *Calculator) recordFailure(ctx context.Context, span trace.Span, in liquidation.Inputs, err error) {
	kind := FailureKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	c.metrics.RecordFailure(ctx, string(in.Mode), kind)
	c.logger.Warn("Risk computation rejected", "inputs", in.String(), "kind", kind, "error", err)
}

// FailureKind classifies err for metrics and transport status mapping
func FailureKind(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return FailureInvalidInput
	case errors.Is(err, apperrors.ErrDegenerateRatio):
		return FailureDegenerateRatio
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	default:
		return FailureUnknown
	}
}
