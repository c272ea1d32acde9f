package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"liqrisk/internal/risk/liquidation"
)

// CSVContentType is the media type of curve exports
const CSVContentType = "text/csv"

var curveHeader = []string{"debt_increase", "collateral_decrease"}

// CurveFileName is the download name for a curve export in mode
func CurveFileName(mode liquidation.Mode) string {
	return fmt.Sprintf("liquidation_scenarios_%s.csv", mode)
}

// WriteCurveCSV writes the curve as two columns rounded to 2 places.
// An empty curve writes the header only.
func WriteCurveCSV(w io.Writer, curve []liquidation.CurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(curveHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, p := range curve {
		record := []string{
			RoundPct(p.DebtIncreasePct).StringFixed(PercentDecimals),
			RoundPct(p.CollateralDecreasePct).StringFixed(PercentDecimals),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
