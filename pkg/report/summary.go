// Package report turns engine results into rounded, human-facing views
package report

import (
	"fmt"

	"liqrisk/internal/risk/liquidation"

	"github.com/shopspring/decimal"
)

// Display precision
const (
	PercentDecimals = 2
	RatioDecimals   = 4
)

// Risk messages shown next to the liquidation flag
const (
	MessageHFLiquidatable  = "Warning: This position is liquidatable (HF < 1)"
	MessageHFSafe          = "Position is safe from liquidation"
	MessageLTVLiquidatable = "Warning: This position may be close to liquidation"
	MessageLTVSafe         = "Position appears safe"

	MessageNoScenarios = "No valid combined scenarios found for the given parameters."
)

// Summary is a rounded view of one computation
type Summary struct {
	Mode      liquidation.Mode `json:"mode"`
	ModeLabel string           `json:"mode_label"`

	Initial   decimal.Decimal `json:"initial"`
	Final     decimal.Decimal `json:"final"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Ratio     decimal.Decimal `json:"ratio"`

	DebtOnlyPct       decimal.Decimal `json:"debt_only_pct"`
	CollateralOnlyPct decimal.Decimal `json:"collateral_only_pct"`

	ImpliedFinalHF decimal.Decimal `json:"implied_final_hf"`
	Liquidatable   bool            `json:"liquidatable"`
	RiskMessage    string          `json:"risk_message"`

	Direction   liquidation.Direction `json:"direction"`
	CurvePoints int                   `json:"curve_points"`
	Equation    string                `json:"equation"`
}

// Summarize rounds res for display: percents to 2 places, ratios to 4
func Summarize(in liquidation.Inputs, res liquidation.Result) Summary {
	ratio := decimal.NewFromFloat(res.Ratio).Round(RatioDecimals)
	return Summary{
		Mode:              res.Mode,
		ModeLabel:         res.Mode.Label(),
		Initial:           decimal.NewFromFloat(in.Initial()).Round(RatioDecimals),
		Final:             decimal.NewFromFloat(in.Final()).Round(RatioDecimals),
		ChangePct:         RoundPct(res.ChangePct),
		Ratio:             ratio,
		DebtOnlyPct:       RoundPct(res.DebtOnlyPct),
		CollateralOnlyPct: RoundPct(res.CollateralOnlyPct),
		ImpliedFinalHF:    decimal.NewFromFloat(res.ImpliedFinalHF).Round(RatioDecimals),
		Liquidatable:      res.Liquidatable,
		RiskMessage:       RiskMessage(res.Mode, res.Liquidatable),
		Direction:         res.Direction,
		CurvePoints:       len(res.Curve),
		Equation:          fmt.Sprintf("(1 + α) / (1 + β) = %s", ratio.StringFixed(RatioDecimals)),
	}
}

// RiskMessage returns the mode-specific liquidation message
func RiskMessage(mode liquidation.Mode, liquidatable bool) string {
	switch {
	case mode == liquidation.ModeLTV && liquidatable:
		return MessageLTVLiquidatable
	case mode == liquidation.ModeLTV:
		return MessageLTVSafe
	case liquidatable:
		return MessageHFLiquidatable
	default:
		return MessageHFSafe
	}
}

// RoundPct rounds a percentage to display precision
func RoundPct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(PercentDecimals)
}

// FormatSignedPct renders v as "+50.00%" or "-33.33%"
func FormatSignedPct(v decimal.Decimal) string {
	sign := ""
	if !v.IsNegative() {
		sign = "+"
	}
	return sign + v.StringFixed(PercentDecimals) + "%"
}

// FormatValue renders an initial or final value: HF as a plain number,
// LTV as a percentage.
func FormatValue(mode liquidation.Mode, v decimal.Decimal) string {
	if mode == liquidation.ModeLTV {
		return v.Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
	}
	return v.StringFixed(PercentDecimals)
}
