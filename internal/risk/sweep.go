package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/concurrency"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxSweepRows bounds a single sweep
const MaxSweepRows = 1000

// SweepRequest evaluates a range of target values against one initial value.
// From, To and Step refer to the final HF or final LTV depending on Mode.
type SweepRequest struct {
	Mode    liquidation.Mode         `json:"mode"`
	Initial float64                  `json:"initial"`
	From    float64                  `json:"from"`
	To      float64                  `json:"to"`
	Step    float64                  `json:"step"`
	LLTV    float64                  `json:"lltv,omitempty"`
	Curve   liquidation.CurveOptions `json:"curve,omitempty"`
}

// SweepRow is one evaluated target. Exactly one of Result and Error is set.
type SweepRow struct {
	Final  float64             `json:"final"`
	Result *liquidation.Result `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Kind   string              `json:"kind,omitempty"`
}

// Targets returns the final values of the sweep in ascending order.
// Values are stepped in decimal so 0.1 increments do not drift.
func (r SweepRequest) Targets() ([]float64, error) {
	fields := []struct {
		name  string
		value float64
	}{{"initial", r.Initial}, {"from", r.From}, {"to", r.To}, {"step", r.Step}}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return nil, &liquidation.InputError{Field: f.name, Value: f.value, Reason: "must be finite"}
		}
	}
	if r.Step <= 0 {
		return nil, &liquidation.InputError{Field: "step", Value: r.Step, Reason: "must be positive"}
	}
	if r.From < 0 {
		return nil, &liquidation.InputError{Field: "from", Value: r.From, Reason: "must not be negative"}
	}
	if r.To < r.From {
		return nil, &liquidation.InputError{Field: "to", Value: r.To, Reason: "must not be below from"}
	}

	from := decimal.NewFromFloat(r.From)
	to := decimal.NewFromFloat(r.To)
	step := decimal.NewFromFloat(r.Step)

	// Compare in decimal: the quotient can exceed int64 for finite inputs.
	steps := to.Sub(from).Div(step).Floor()
	if steps.GreaterThanOrEqual(decimal.NewFromInt(MaxSweepRows)) {
		return nil, &liquidation.InputError{
			Field:  "step",
			Value:  r.Step,
			Reason: fmt.Sprintf("sweep would exceed %d rows", MaxSweepRows),
		}
	}
	count := steps.IntPart() + 1

	targets := make([]float64, 0, count)
	for i := int64(0); i < count; i++ {
		targets = append(targets, from.Add(step.Mul(decimal.NewFromInt(i))).InexactFloat64())
	}
	return targets, nil
}

func (r SweepRequest) inputs(final float64) liquidation.Inputs {
	in := liquidation.Inputs{Mode: r.Mode, LLTV: r.LLTV, Curve: r.Curve}
	return in.WithTarget(r.Initial, final)
}

// Sweep evaluates every target of req. A target the engine rejects yields a
// row carrying the error; only a malformed request or a cancelled context
// fails the whole sweep.
func (c *Calculator) Sweep(ctx context.Context, req SweepRequest) ([]SweepRow, error) {
	ctx, span := c.tracer.Start(ctx, "Sweep",
		trace.WithAttributes(
			attribute.String("mode", string(req.Mode)),
			attribute.Float64("initial", req.Initial),
			attribute.Float64("from", req.From),
			attribute.Float64("to", req.To),
			attribute.Float64("step", req.Step),
		))
	defer span.End()

	if !req.Mode.Valid() {
		err := &liquidation.InputError{Field: "mode", Value: req.Mode, Reason: "must be one of: hf, ltv"}
		c.recordFailure(ctx, span, liquidation.Inputs{Mode: req.Mode}, err)
		return nil, err
	}

	targets, err := req.Targets()
	if err != nil {
		c.recordFailure(ctx, span, liquidation.Inputs{Mode: req.Mode}, err)
		return nil, err
	}

	rows := make([]SweepRow, len(targets))
	tasks := make([]func(ctx context.Context) error, len(targets))
	for i, final := range targets {
		i, final := i, final
		tasks[i] = func(ctx context.Context) error {
			rows[i] = c.sweepRow(ctx, req.inputs(final), final)
			return ctx.Err()
		}
	}

	if err := c.run(ctx, tasks); err != nil {
		c.recordFailure(ctx, span, liquidation.Inputs{Mode: req.Mode}, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("rows", len(rows)))
	c.metrics.RecordSweepRows(ctx, string(req.Mode), len(rows))
	c.logger.Debug("Sweep completed", "mode", req.Mode, "rows", len(rows))

	return rows, nil
}

func (c *Calculator) sweepRow(ctx context.Context, in liquidation.Inputs, final float64) SweepRow {
	res, err := c.Compute(ctx, in)
	if err != nil {
		return SweepRow{Final: final, Error: err.Error(), Kind: FailureKind(err)}
	}
	return SweepRow{Final: final, Result: &res}
}

// run fans tasks out on the pool, or runs them in order when there is no
// pool or it has been stopped
func (c *Calculator) run(ctx context.Context, tasks []func(ctx context.Context) error) error {
	if c.pool != nil {
		err := c.pool.RunAll(ctx, tasks)
		if !errors.Is(err, concurrency.ErrPoolStopped) {
			return err
		}
		c.logger.Warn("Sweep pool stopped, running sequentially", "tasks", len(tasks))
	}
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task(ctx); err != nil {
			return err
		}
	}
	return nil
}
