package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricComputationsTotal   = "liqrisk_computations_total"
	MetricComputeFailures     = "liqrisk_compute_failures_total"
	MetricComputeLatency      = "liqrisk_compute_latency_ms"
	MetricCurvePoints         = "liqrisk_curve_points"
	MetricLiquidatableResults = "liqrisk_liquidatable_results_total"
	MetricSweepRowsTotal      = "liqrisk_sweep_rows_total"
	MetricLastRatio           = "liqrisk_last_ratio"
)

// MetricsHolder holds initialized instruments. Record methods are no-ops
// until InitMetrics has run.
type MetricsHolder struct {
	ComputationsTotal   metric.Int64Counter
	ComputeFailures     metric.Int64Counter
	ComputeLatency      metric.Float64Histogram
	CurvePoints         metric.Int64Histogram
	LiquidatableResults metric.Int64Counter
	SweepRowsTotal      metric.Int64Counter
	LastRatio           metric.Float64ObservableGauge

	// State for observable gauges
	mu           sync.RWMutex
	lastRatioMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			lastRatioMap: make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ComputationsTotal, err = meter.Int64Counter(MetricComputationsTotal, metric.WithDescription("Successful risk computations"))
	if err != nil {
		return err
	}

	m.ComputeFailures, err = meter.Int64Counter(MetricComputeFailures, metric.WithDescription("Rejected risk computations by error kind"))
	if err != nil {
		return err
	}

	m.ComputeLatency, err = meter.Float64Histogram(MetricComputeLatency, metric.WithDescription("Latency of a single risk computation"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.CurvePoints, err = meter.Int64Histogram(MetricCurvePoints, metric.WithDescription("Feasible samples retained on the combined-move curve"))
	if err != nil {
		return err
	}

	m.LiquidatableResults, err = meter.Int64Counter(MetricLiquidatableResults, metric.WithDescription("Computations whose target is liquidatable"))
	if err != nil {
		return err
	}

	m.SweepRowsTotal, err = meter.Int64Counter(MetricSweepRowsTotal, metric.WithDescription("Rows evaluated by target sweeps"))
	if err != nil {
		return err
	}

	// Observables
	m.LastRatio, err = meter.Float64ObservableGauge(MetricLastRatio, metric.WithDescription("Ratio of the most recent computation per mode"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for mode, val := range m.lastRatioMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("mode", mode)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordComputation records a successful computation
func (m *MetricsHolder) RecordComputation(ctx context.Context, mode string, ratio float64, curvePoints int, liquidatable bool, latencyMs float64) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	if m.ComputationsTotal != nil {
		m.ComputationsTotal.Add(ctx, 1, attrs)
	}
	if m.ComputeLatency != nil {
		m.ComputeLatency.Record(ctx, latencyMs, attrs)
	}
	if m.CurvePoints != nil {
		m.CurvePoints.Record(ctx, int64(curvePoints), attrs)
	}
	if liquidatable && m.LiquidatableResults != nil {
		m.LiquidatableResults.Add(ctx, 1, attrs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRatioMap[mode] = ratio
}

// RecordFailure records a rejected computation
func (m *MetricsHolder) RecordFailure(ctx context.Context, mode, kind string) {
	if m.ComputeFailures == nil {
		return
	}
	m.ComputeFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("kind", kind),
	))
}

// RecordSweepRows records the size of a finished sweep
func (m *MetricsHolder) RecordSweepRows(ctx context.Context, mode string, rows int) {
	if m.SweepRowsTotal == nil {
		return
	}
	m.SweepRowsTotal.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("mode", mode)))
}

// GetLastRatio returns a copy of the last observed ratio per mode
func (m *MetricsHolder) GetLastRatio() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.lastRatioMap))
	for k, v := range m.lastRatioMap {
		res[k] = v
	}
	return res
}
