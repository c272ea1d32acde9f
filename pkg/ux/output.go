// Package ux provides terminal output styling for the liqrisk CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/report"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
)

var (
	ColorAccent  = lipgloss.Color("#F97316") // curve orange
	ColorSuccess = lipgloss.Color("#2ECC71")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7F8C8D")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Label:   lipgloss.NewStyle().Width(24),
	Value:   lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

func row(label, value string) string {
	return Styles.Label.Render(label) + Styles.Value.Render(value)
}

// RenderSummary formats the key metrics, isolated moves and risk message
func RenderSummary(s report.Summary) string {
	short := "HF"
	if s.Mode == liquidation.ModeLTV {
		short = "LTV"
	}

	status := Styles.Success.Render("✓ " + s.RiskMessage)
	if s.Liquidatable {
		status = Styles.Error.Render("✗ " + s.RiskMessage)
	}

	lines := []string{
		Styles.Title.Render("Key Metrics"),
		row("Initial "+short, report.FormatValue(s.Mode, s.Initial)),
		row("Final "+short, report.FormatValue(s.Mode, s.Final)),
		row(short+" Change", report.FormatSignedPct(s.ChangePct)),
		row("Price Ratio", s.Ratio.StringFixed(report.RatioDecimals)),
		row("Implied Final HF", s.ImpliedFinalHF.StringFixed(report.RatioDecimals)),
		"",
		Styles.Title.Render("Isolated Price Changes"),
		row("Debt Token Price", report.FormatSignedPct(s.DebtOnlyPct)),
		row("Collateral Token Price", report.FormatSignedPct(s.CollateralOnlyPct)),
		Styles.Muted.Render(s.Equation),
		"",
		status,
	}
	if s.CurvePoints == 0 {
		lines = append(lines, Styles.Warning.Render(report.MessageNoScenarios))
	}
	return Styles.Box.Render(strings.Join(lines, "\n"))
}

// RenderCurve formats every nth curve point as a two-column table
func RenderCurve(curve []liquidation.CurvePoint, every int) string {
	if len(curve) == 0 {
		return Styles.Warning.Render(report.MessageNoScenarios)
	}
	if every <= 0 {
		every = 1
	}

	var b strings.Builder
	b.WriteString(Styles.Title.Render(fmt.Sprintf("%-16s %s", "Debt increase", "Collateral decrease")))
	for i, p := range curve {
		if i%every != 0 && i != len(curve)-1 {
			continue
		}
		fmt.Fprintf(&b, "\n%15s%% %18s%%",
			report.RoundPct(p.DebtIncreasePct).StringFixed(report.PercentDecimals),
			report.RoundPct(p.CollateralDecreasePct).StringFixed(report.PercentDecimals))
	}
	return b.String()
}

// RenderSweep formats sweep rows, one target per line
func RenderSweep(mode liquidation.Mode, rows []risk.SweepRow) string {
	var b strings.Builder
	b.WriteString(Styles.Title.Render(fmt.Sprintf("%-10s %10s %12s %14s  %s", "Final", "Ratio", "Debt only", "Collat. only", "Status")))
	for _, r := range rows {
		final := report.FormatValue(mode, decimal.NewFromFloat(r.Final).Round(report.RatioDecimals))
		if r.Result == nil {
			fmt.Fprintf(&b, "\n%-10s %s", final, Styles.Error.Render(r.Error))
			continue
		}
		status := Styles.Success.Render("safe")
		if r.Result.Liquidatable {
			status = Styles.Error.Render("liquidatable")
		}
		fmt.Fprintf(&b, "\n%-10s %10.4f %12s %14s  %s",
			final,
			r.Result.Ratio,
			report.FormatSignedPct(report.RoundPct(r.Result.DebtOnlyPct)),
			report.FormatSignedPct(report.RoundPct(r.Result.CollateralOnlyPct)),
			status)
	}
	return b.String()
}

// RenderError formats an error for the terminal
func RenderError(err error) string {
	return Styles.ErrorBox.Render(Styles.Error.Render("✗ ") + err.Error())
}

// Print writes a rendered block followed by a newline
func Print(w io.Writer, block string) {
	fmt.Fprintln(w, block)
}
