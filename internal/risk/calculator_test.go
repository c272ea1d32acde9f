package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/concurrency"
	apperrors "liqrisk/pkg/errors"
	"liqrisk/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalculator(t *testing.T, withPool bool) *Calculator {
	t.Helper()
	logger := logging.NewNopLogger()

	var pool *concurrency.WorkerPool
	if withPool {
		pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "sweep-test",
			MaxWorkers:  4,
			MaxCapacity: 100,
		}, logger)
		t.Cleanup(pool.Stop)
	}
	return NewCalculator(nil, pool, logger)
}

func TestCalculator_Compute(t *testing.T) {
	calc := newTestCalculator(t, false)

	res, err := calc.Compute(context.Background(), liquidation.Inputs{
		Mode:      liquidation.ModeHealthFactor,
		InitialHF: 1.5,
		FinalHF:   1.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, res.Ratio, 1e-12)
	assert.InDelta(t, 50.0, res.DebtOnlyPct, 1e-9)
	assert.InDelta(t, -33.3333, res.CollateralOnlyPct, 1e-4)
	assert.False(t, res.Liquidatable)
}

func TestCalculator_ComputeErrors(t *testing.T) {
	calc := newTestCalculator(t, false)

	_, err := calc.Compute(context.Background(), liquidation.Inputs{
		Mode: liquidation.ModeHealthFactor, InitialHF: 1.5, FinalHF: 0,
	})
	assert.ErrorIs(t, err, apperrors.ErrDegenerateRatio)
	assert.Equal(t, FailureDegenerateRatio, FailureKind(err))

	_, err = calc.Compute(context.Background(), liquidation.Inputs{
		Mode: liquidation.ModeLTV, InitialLTV: -0.5, FinalLTV: 0.8,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, FailureInvalidInput, FailureKind(err))
}

func TestCalculator_ComputeCancelled(t *testing.T) {
	calc := newTestCalculator(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := calc.Compute(ctx, liquidation.Inputs{
		Mode: liquidation.ModeHealthFactor, InitialHF: 1.5, FinalHF: 1.0,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, FailureCancelled, FailureKind(err))
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, FailureUnknown, FailureKind(errors.New("boom")))
	assert.Equal(t, FailureInvalidInput, FailureKind(fmt.Errorf("wrapped: %w", apperrors.ErrInvalidInput)))
	assert.Equal(t, FailureCancelled, FailureKind(context.DeadlineExceeded))
}

func TestSweepRequest_Targets(t *testing.T) {
	tests := []struct {
		name    string
		req     SweepRequest
		want    []float64
		wantErr bool
	}{
		{
			name: "tenth steps do not drift",
			req:  SweepRequest{From: 0.5, To: 1.0, Step: 0.1},
			want: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		{
			name: "single target",
			req:  SweepRequest{From: 1.2, To: 1.2, Step: 0.1},
			want: []float64{1.2},
		},
		{
			name: "last step overshoots the bound",
			req:  SweepRequest{From: 0.1, To: 0.35, Step: 0.1},
			want: []float64{0.1, 0.2, 0.3},
		},
		{name: "zero step", req: SweepRequest{From: 0.5, To: 1, Step: 0}, wantErr: true},
		{name: "reversed range", req: SweepRequest{From: 1, To: 0.5, Step: 0.1}, wantErr: true},
		{name: "negative from", req: SweepRequest{From: -1, To: 0.5, Step: 0.1}, wantErr: true},
		{name: "too many rows", req: SweepRequest{From: 0, To: 10, Step: 0.001}, wantErr: true},
		{name: "exactly the row limit", req: SweepRequest{From: 0, To: 999, Step: 1}},
		{name: "one past the row limit", req: SweepRequest{From: 0, To: 1000, Step: 1}, wantErr: true},
		{name: "quotient beyond int64", req: SweepRequest{From: 0, To: 1e19, Step: 1}, wantErr: true},
		{name: "quotient at uint64 wrap", req: SweepRequest{From: 0, To: 1.8446744073709552e19, Step: 1}, wantErr: true},
		{name: "extreme exponents", req: SweepRequest{From: 0, To: 1e300, Step: 1e-300}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Targets()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Len(t, got, MaxSweepRows)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculator_Sweep(t *testing.T) {
	for _, withPool := range []bool{false, true} {
		t.Run(fmt.Sprintf("pool=%v", withPool), func(t *testing.T) {
			calc := newTestCalculator(t, withPool)

			rows, err := calc.Sweep(context.Background(), SweepRequest{
				Mode:    liquidation.ModeHealthFactor,
				Initial: 1.5,
				From:    0,
				To:      1.5,
				Step:    0.5,
			})
			require.NoError(t, err)
			require.Len(t, rows, 4)

			// finalHF 0 is degenerate but does not fail the sweep
			assert.Equal(t, 0.0, rows[0].Final)
			assert.Nil(t, rows[0].Result)
			assert.Equal(t, FailureDegenerateRatio, rows[0].Kind)
			assert.NotEmpty(t, rows[0].Error)

			for i, final := range []float64{0.5, 1.0, 1.5} {
				row := rows[i+1]
				assert.Equal(t, final, row.Final)
				require.NotNil(t, row.Result)
				assert.InDelta(t, 1.5/final, row.Result.Ratio, 1e-12)
			}
			assert.True(t, rows[1].Result.Liquidatable)
			assert.False(t, rows[2].Result.Liquidatable)
			assert.Equal(t, liquidation.DirectionUnchanged, rows[3].Result.Direction)
		})
	}
}

func TestCalculator_SweepLTV(t *testing.T) {
	calc := newTestCalculator(t, true)

	rows, err := calc.Sweep(context.Background(), SweepRequest{
		Mode:    liquidation.ModeLTV,
		Initial: 0.6,
		From:    0.8,
		To:      1.0,
		Step:    0.1,
		LLTV:    0.9,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.False(t, rows[0].Result.Liquidatable) // 0.9/0.8 > 1
	assert.False(t, rows[1].Result.Liquidatable) // 0.9/0.9 == 1
	assert.True(t, rows[2].Result.Liquidatable)  // 0.9/1.0 < 1
}

func TestCalculator_SweepRejectsBadRequest(t *testing.T) {
	calc := newTestCalculator(t, false)

	_, err := calc.Sweep(context.Background(), SweepRequest{Mode: "apr", Initial: 1, From: 1, To: 2, Step: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = calc.Sweep(context.Background(), SweepRequest{Mode: liquidation.ModeHealthFactor, Initial: 1, From: 2, To: 1, Step: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCalculator_SweepCancelled(t *testing.T) {
	calc := newTestCalculator(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := calc.Sweep(ctx, SweepRequest{
		Mode: liquidation.ModeHealthFactor, Initial: 1.5, From: 0.5, To: 1.5, Step: 0.1,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, rows)
}

func TestCalculator_SweepAfterPoolStop(t *testing.T) {
	calc := newTestCalculator(t, true)
	calc.pool.Stop()

	rows, err := calc.Sweep(context.Background(), SweepRequest{
		Mode: liquidation.ModeHealthFactor, Initial: 1.5, From: 1, To: 1.5, Step: 0.25,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
