package liquidation

import (
	"math"
)

const (
	// DefaultLLTV is the liquidation LTV assumed when none is supplied
	DefaultLLTV = 0.90

	DefaultMaxDebtIncreasePct = 100.0
	DefaultStepPct            = 1.0

	// MaxCurveSamples bounds the curve length for fine step sizes
	MaxCurveSamples = 10001

	// LiquidationHF is the health factor below which a position is liquidatable
	LiquidationHF = 1.0
)

// sampleEpsilon absorbs float error when deciding whether the last sample
// already sits on the curve's upper bound.
const sampleEpsilon = 1e-9

// Engine holds the defaults applied to zero-valued optional inputs.
// The zero Engine is not usable; call NewEngine.
type Engine struct {
	lltv  float64
	curve CurveOptions
}

// Option configures an Engine
type Option func(*Engine)

// WithDefaultLLTV sets the LLTV used when Inputs.LLTV is zero
func WithDefaultLLTV(lltv float64) Option {
	return func(e *Engine) { e.lltv = lltv }
}

// WithCurveDefaults sets the curve resolution used when Inputs.Curve is zero
func WithCurveDefaults(opts CurveOptions) Option {
	return func(e *Engine) {
		if opts.MaxDebtIncreasePct != 0 {
			e.curve.MaxDebtIncreasePct = opts.MaxDebtIncreasePct
		}
		if opts.StepPct != 0 {
			e.curve.StepPct = opts.StepPct
		}
	}
}

// NewEngine creates an engine; without options it samples 0..100% in 1% steps
// and assumes an LLTV of 0.90.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		lltv: DefaultLLTV,
		curve: CurveOptions{
			MaxDebtIncreasePct: DefaultMaxDebtIncreasePct,
			StepPct:            DefaultStepPct,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Compute runs the default engine
func Compute(in Inputs) (Result, error) {
	return defaultEngine.Compute(in)
}

// Compute derives the isolated moves, the combined-move curve and the
// liquidation flag for in. On error no partial Result is returned.
func (e *Engine) Compute(in Inputs) (Result, error) {
	r, err := Ratio(in)
	if err != nil {
		return Result{}, err
	}

	lltv, err := e.resolveLLTV(in)
	if err != nil {
		return Result{}, err
	}

	curveOpts, err := e.resolveCurve(in.Curve)
	if err != nil {
		return Result{}, err
	}

	debtOnly, collateralOnly := IsolatedMoves(r)
	impliedHF := impliedFinalHF(in, lltv)
	change := (in.Final()/in.Initial() - 1) * 100

	for _, v := range []float64{debtOnly, collateralOnly, impliedHF, change} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, &RatioError{
				Mode: in.Mode, Initial: in.Initial(), Final: in.Final(), Ratio: r,
				Reason: "ratio produces a non-finite result",
			}
		}
	}

	return Result{
		Mode:              in.Mode,
		Ratio:             r,
		DebtOnlyPct:       debtOnly,
		CollateralOnlyPct: collateralOnly,
		Curve:             GenerateCurve(r, curveOpts),
		ImpliedFinalHF:    impliedHF,
		Liquidatable:      impliedHF < LiquidationHF,
		Direction:         direction(r),
		ChangePct:         change,
	}, nil
}

// Ratio returns (1+α)/(1+β) for the active mode: initialHF/finalHF or
// finalLTV/initialLTV. Negative or non-finite inputs are InputErrors; zero
// inputs, or a quotient that is zero, infinite or NaN, are RatioErrors.
func Ratio(in Inputs) (float64, error) {
	if !in.Mode.Valid() {
		return 0, &InputError{Field: "mode", Value: in.Mode, Reason: "must be one of: hf, ltv"}
	}

	initialField, finalField := "initial_hf", "final_hf"
	if in.Mode == ModeLTV {
		initialField, finalField = "initial_ltv", "final_ltv"
	}
	initial, final := in.Initial(), in.Final()

	if err := checkField(initialField, initial); err != nil {
		return 0, err
	}
	if err := checkField(finalField, final); err != nil {
		return 0, err
	}

	var r float64
	if in.Mode == ModeHealthFactor {
		r = initial / final
	} else {
		r = final / initial
	}

	var reason string
	switch {
	case initial == 0 && final == 0:
		reason = "initial and final are both zero"
	case initial == 0:
		reason = initialField + " is zero"
	case final == 0:
		reason = finalField + " is zero"
	case math.IsNaN(r):
		reason = "ratio is NaN"
	case math.IsInf(r, 0):
		reason = "ratio overflows"
	case r == 0:
		reason = "ratio underflows to zero"
	default:
		return r, nil
	}
	return 0, &RatioError{Mode: in.Mode, Initial: initial, Final: final, Ratio: r, Reason: reason}
}

func checkField(field string, v float64) error {
	switch {
	case math.IsNaN(v):
		return &InputError{Field: field, Value: v, Reason: "must be a number"}
	case math.IsInf(v, 0):
		return &InputError{Field: field, Value: v, Reason: "must be finite"}
	case v < 0:
		return &InputError{Field: field, Value: v, Reason: "must not be negative"}
	}
	return nil
}

// IsolatedMoves returns the debt price change (β = 0) and the signed
// collateral price change (α = 0) that each alone reach ratio r, in percent.
func IsolatedMoves(r float64) (debtOnlyPct, collateralOnlyPct float64) {
	debtOnlyPct = (r - 1) * 100
	collateralOnlyPct = -((1 - 1/r) * 100)
	if collateralOnlyPct == 0 {
		collateralOnlyPct = 0 // no negative zero at r == 1
	}
	return debtOnlyPct, collateralOnlyPct
}

// CollateralDecreaseAt solves (1+α)/(1+β) = r for the collateral decrease
// given a debt increase, both in percent.
func CollateralDecreaseAt(r, debtIncreasePct float64) float64 {
	alpha := debtIncreasePct / 100
	beta := 1 - (1+alpha)/r
	return beta * 100
}

// GenerateCurve samples debt increases from 0 to opts.MaxDebtIncreasePct at
// opts.StepPct and keeps the samples whose collateral decrease lies in
// [0, 100]. Options are assumed valid; see Engine.Compute.
func GenerateCurve(r float64, opts CurveOptions) []CurvePoint {
	maxPct, step := opts.MaxDebtIncreasePct, opts.StepPct
	n := int(math.Floor(maxPct/step + sampleEpsilon))

	curve := make([]CurvePoint, 0, n+2)
	appendSample := func(d float64) {
		c := CollateralDecreaseAt(r, d)
		if c >= 0 && c <= 100 {
			curve = append(curve, CurvePoint{DebtIncreasePct: d, CollateralDecreasePct: c})
		}
	}

	for i := 0; i <= n; i++ {
		appendSample(float64(i) * step)
	}
	if float64(n)*step < maxPct-sampleEpsilon {
		appendSample(maxPct)
	}
	return curve
}

func (e *Engine) resolveLLTV(in Inputs) (float64, error) {
	if in.Mode != ModeLTV {
		return 0, nil
	}
	lltv := in.LLTV
	if lltv == 0 {
		lltv = e.lltv
	}
	if math.IsNaN(lltv) || math.IsInf(lltv, 0) || lltv <= 0 || lltv > 1 {
		return 0, &InputError{Field: "lltv", Value: lltv, Reason: "must be in (0, 1]"}
	}
	return lltv, nil
}

func (e *Engine) resolveCurve(opts CurveOptions) (CurveOptions, error) {
	if opts.MaxDebtIncreasePct == 0 {
		opts.MaxDebtIncreasePct = e.curve.MaxDebtIncreasePct
	}
	if opts.StepPct == 0 {
		opts.StepPct = e.curve.StepPct
	}
	if err := ValidateCurveOptions(opts); err != nil {
		return CurveOptions{}, err
	}
	return opts, nil
}

// ValidateCurveOptions checks a fully resolved set of curve options
func ValidateCurveOptions(opts CurveOptions) error {
	maxPct, step := opts.MaxDebtIncreasePct, opts.StepPct
	if math.IsNaN(maxPct) || maxPct <= 0 || maxPct > 100 {
		return &InputError{Field: "curve.max_debt_increase_pct", Value: maxPct, Reason: "must be in (0, 100]"}
	}
	if math.IsNaN(step) || step <= 0 || step > maxPct {
		return &InputError{Field: "curve.step_pct", Value: step, Reason: "must be in (0, max_debt_increase_pct]"}
	}
	if maxPct/step+1 > MaxCurveSamples {
		return &InputError{Field: "curve.step_pct", Value: step, Reason: "too many curve samples"}
	}
	return nil
}

// impliedFinalHF is finalHF in HF mode and LLTV/finalLTV in LTV mode. The
// inactive pair is never read.
func impliedFinalHF(in Inputs, lltv float64) float64 {
	if in.Mode == ModeLTV {
		return lltv / in.FinalLTV
	}
	return in.FinalHF
}

func direction(r float64) Direction {
	switch {
	case r > 1:
		return DirectionWorsened
	case r < 1:
		return DirectionImproved
	default:
		return DirectionUnchanged
	}
}
