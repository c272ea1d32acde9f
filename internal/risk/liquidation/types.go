// Package liquidation computes how adverse debt and collateral price moves
// erode a collateralized loan's Health Factor or LTV.
//
// Every exported function is pure: no shared state, no I/O, safe for
// concurrent use.
package liquidation

import (
	"fmt"
	"strings"
)

// Mode selects which input pair defines the target ratio
type Mode string

const (
	ModeHealthFactor Mode = "hf"
	ModeLTV          Mode = "ltv"
)

// ParseMode accepts the wire names plus a few spelled-out aliases
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hf", "health_factor", "healthfactor", "health-factor":
		return ModeHealthFactor, nil
	case "ltv", "loan_to_value", "loan-to-value":
		return ModeLTV, nil
	default:
		return "", &InputError{Field: "mode", Value: s, Reason: "must be one of: hf, ltv"}
	}
}

// Valid reports whether m is a recognized mode
func (m Mode) Valid() bool {
	return m == ModeHealthFactor || m == ModeLTV
}

// Label is the human readable name of the active metric
func (m Mode) Label() string {
	switch m {
	case ModeHealthFactor:
		return "Health Factor"
	case ModeLTV:
		return "LTV"
	default:
		return string(m)
	}
}

// Direction describes how the target moves the position's health
type Direction string

const (
	DirectionWorsened  Direction = "worsened"
	DirectionImproved  Direction = "improved"
	DirectionUnchanged Direction = "unchanged"
)

// CurveOptions controls the sampling of the combined-move curve.
// Zero fields fall back to the engine defaults.
type CurveOptions struct {
	MaxDebtIncreasePct float64 `json:"max_debt_increase_pct,omitempty" yaml:"max_debt_increase_pct"`
	StepPct            float64 `json:"step_pct,omitempty" yaml:"step_pct"`
}

// Inputs is one immutable snapshot of the calculator's inputs.
// Only the pair matching Mode is read; the other pair is carried untouched.
type Inputs struct {
	Mode       Mode    `json:"mode"`
	InitialHF  float64 `json:"initial_hf,omitempty"`
	FinalHF    float64 `json:"final_hf,omitempty"`
	InitialLTV float64 `json:"initial_ltv,omitempty"`
	FinalLTV   float64 `json:"final_ltv,omitempty"`

	// LLTV is the liquidation LTV used to derive the implied final HF in
	// LTV mode. Zero means the engine default.
	LLTV float64 `json:"lltv,omitempty"`

	Curve CurveOptions `json:"curve,omitempty"`
}

// Initial returns the initial value of the active metric
func (in Inputs) Initial() float64 {
	if in.Mode == ModeLTV {
		return in.InitialLTV
	}
	return in.InitialHF
}

// Final returns the target value of the active metric
func (in Inputs) Final() float64 {
	if in.Mode == ModeLTV {
		return in.FinalLTV
	}
	return in.FinalHF
}

// WithTarget returns a copy of in with the active pair replaced
func (in Inputs) WithTarget(initial, final float64) Inputs {
	out := in
	if in.Mode == ModeLTV {
		out.InitialLTV, out.FinalLTV = initial, final
	} else {
		out.InitialHF, out.FinalHF = initial, final
	}
	return out
}

func (in Inputs) String() string {
	return fmt.Sprintf("%s %g -> %g", in.Mode, in.Initial(), in.Final())
}

// CurvePoint is one simultaneous (debt increase, collateral decrease) pair
// that reaches the target ratio.
type CurvePoint struct {
	DebtIncreasePct       float64 `json:"debt_increase"`
	CollateralDecreasePct float64 `json:"collateral_decrease"`
}

// Result is the engine output for one Inputs value
type Result struct {
	Mode  Mode    `json:"mode"`
	Ratio float64 `json:"ratio"`

	// DebtOnlyPct is the debt price change that alone reaches the target.
	DebtOnlyPct float64 `json:"debt_only_pct"`
	// CollateralOnlyPct is the signed collateral price change that alone
	// reaches the target: negative for a decrease.
	CollateralOnlyPct float64 `json:"collateral_only_pct"`

	Curve []CurvePoint `json:"curve"`

	ImpliedFinalHF float64   `json:"implied_final_hf"`
	Liquidatable   bool      `json:"liquidatable"`
	Direction      Direction `json:"direction"`
	ChangePct      float64   `json:"change_pct"`
}

// CollateralOnlyDecreasePct is the isolated collateral move expressed as a
// decrease, (1 - 1/r) * 100. It equals the curve value at zero debt increase.
func (r Result) CollateralOnlyDecreasePct() float64 {
	return -r.CollateralOnlyPct
}

// Markers returns the two isolated-move points in chart coordinates:
// collateral only at zero debt move, debt only at zero collateral move.
func (r Result) Markers() [2]CurvePoint {
	return [2]CurvePoint{
		{DebtIncreasePct: 0, CollateralDecreasePct: abs(r.CollateralOnlyPct)},
		{DebtIncreasePct: abs(r.DebtOnlyPct), CollateralDecreasePct: 0},
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
