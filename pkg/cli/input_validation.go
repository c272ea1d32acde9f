package cli

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"liqrisk/internal/risk/liquidation"
)

var errMaliciousInput = errors.New("potentially malicious input detected")

var shellPattern = regexp.MustCompile("[;&|`$<>]")

// ValidateInput rejects command-like patterns and path traversal in
// user-supplied paths and flag values.
func ValidateInput(input string) error {
	if shellPattern.MatchString(input) {
		return errMaliciousInput
	}

	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errMaliciousInput
	}

	return nil
}

// ParseMode parses a --mode flag value
func ParseMode(s string) (liquidation.Mode, error) {
	return liquidation.ParseMode(s)
}

// ParseValue parses an HF or LTV value. A trailing percent sign divides by
// 100, so "60%" and "0.60" are the same LTV.
func ParseValue(field, s string) (float64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, &liquidation.InputError{Field: field, Value: s, Reason: "value is required"}
	}

	scale := 1.0
	if strings.HasSuffix(raw, "%") {
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
		scale = 100
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &liquidation.InputError{Field: field, Value: s, Reason: "must be a number or a percentage"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &liquidation.InputError{Field: field, Value: s, Reason: "must be finite"}
	}
	return v / scale, nil
}

// BuildInputs assembles engine inputs from raw flag or query values
func BuildInputs(mode, initial, final, lltv string) (liquidation.Inputs, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return liquidation.Inputs{}, err
	}

	initialField, finalField := "initial_hf", "final_hf"
	if m == liquidation.ModeLTV {
		initialField, finalField = "initial_ltv", "final_ltv"
	}

	iv, err := ParseValue(initialField, initial)
	if err != nil {
		return liquidation.Inputs{}, err
	}
	fv, err := ParseValue(finalField, final)
	if err != nil {
		return liquidation.Inputs{}, err
	}

	in := liquidation.Inputs{Mode: m}.WithTarget(iv, fv)
	if strings.TrimSpace(lltv) != "" {
		if in.LLTV, err = ParseValue("lltv", lltv); err != nil {
			return liquidation.Inputs{}, err
		}
	}
	return in, nil
}
