package liquidation

import (
	"fmt"

	apperrors "liqrisk/pkg/errors"
)

// InputError reports a rejected input field. It matches
// apperrors.ErrInvalidInput under errors.Is.
type InputError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input for field '%s' (value: %v): %s", e.Field, e.Value, e.Reason)
}

func (e *InputError) Unwrap() error { return apperrors.ErrInvalidInput }

// RatioError reports a ratio that is zero, infinite or NaN, or a result that
// would carry a non-finite value. It matches apperrors.ErrDegenerateRatio.
type RatioError struct {
	Mode    Mode
	Initial float64
	Final   float64
	Ratio   float64
	Reason  string
}

func (e *RatioError) Error() string {
	return fmt.Sprintf("degenerate ratio in %s mode (initial: %v, final: %v, ratio: %v): %s",
		e.Mode, e.Initial, e.Final, e.Ratio, e.Reason)
}

func (e *RatioError) Unwrap() error { return apperrors.ErrDegenerateRatio }
