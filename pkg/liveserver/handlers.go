package liveserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/cli"
	apperrors "liqrisk/pkg/errors"
	"liqrisk/pkg/report"
)

// statusRecorder captures the status code for request metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) rateLimited(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		}()

		if !s.allow(r) {
			writeError(rec, http.StatusTooManyRequests, apperrors.ErrRateLimitExceeded.Error(), "rate_limited")
			return
		}
		next(rec, r)
	}
}

// StatusCode maps a calculator error onto an HTTP status
func StatusCode(err error) int {
	switch risk.FailureKind(err) {
	case risk.FailureInvalidInput:
		return http.StatusBadRequest
	case risk.FailureDegenerateRatio:
		return http.StatusUnprocessableEntity
	case risk.FailureCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg, kind string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Kind: kind})
}

func kindOf(err error) string {
	return risk.FailureKind(err)
}

func (s *Server) writeCalcError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError && s.logger != nil {
		s.logger.Warn("Risk request failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err.Error(), kindOf(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", apperrors.ErrInvalidInput, err)
	}
	return nil
}

// inputsFromQuery reads mode, initial, final, lltv and the optional curve
// resolution from the query string. initial and final accept "60%".
func inputsFromQuery(r *http.Request) (liquidation.Inputs, error) {
	q := r.URL.Query()
	in, err := cli.BuildInputs(q.Get("mode"), q.Get("initial"), q.Get("final"), q.Get("lltv"))
	if err != nil {
		return liquidation.Inputs{}, err
	}

	for field, dst := range map[string]*float64{
		"max_debt_increase_pct": &in.Curve.MaxDebtIncreasePct,
		"step_pct":              &in.Curve.StepPct,
	} {
		raw := q.Get(field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return liquidation.Inputs{}, &liquidation.InputError{Field: "curve." + field, Value: raw, Reason: "must be a number"}
		}
		*dst = v
	}
	return in, nil
}

func (s *Server) compute(ctx context.Context, in liquidation.Inputs) (RiskResponse, error) {
	res, err := s.calc.Compute(ctx, in)
	if err != nil {
		return RiskResponse{}, err
	}
	return RiskResponse{Result: res, Summary: report.Summarize(in, res)}, nil
}

func (s *Server) handleComputePost(w http.ResponseWriter, r *http.Request) {
	var in liquidation.Inputs
	if err := decodeBody(w, r, &in); err != nil {
		s.writeCalcError(w, r, err)
		return
	}
	s.respondCompute(w, r, in)
}

func (s *Server) handleComputeGet(w http.ResponseWriter, r *http.Request) {
	in, err := inputsFromQuery(r)
	if err != nil {
		s.writeCalcError(w, r, err)
		return
	}
	s.respondCompute(w, r, in)
}

func (s *Server) respondCompute(w http.ResponseWriter, r *http.Request, in liquidation.Inputs) {
	resp, err := s.compute(r.Context(), in)
	if err != nil {
		s.writeCalcError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurveCSV(w http.ResponseWriter, r *http.Request) {
	in, err := inputsFromQuery(r)
	if err != nil {
		s.writeCalcError(w, r, err)
		return
	}

	res, err := s.calc.Compute(r.Context(), in)
	if err != nil {
		s.writeCalcError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", report.CSVContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.CurveFileName(res.Mode)))
	if err := report.WriteCurveCSV(w, res.Curve); err != nil && s.logger != nil {
		s.logger.Warn("Failed to write curve export", "error", err)
	}
}

// SweepResponse is the body of a sweep reply
type SweepResponse struct {
	Mode liquidation.Mode `json:"mode"`
	Rows []risk.SweepRow  `json:"rows"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req risk.SweepRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeCalcError(w, r, err)
		return
	}

	rows, err := s.calc.Sweep(r.Context(), req)
	if err != nil {
		s.writeCalcError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Mode: req.Mode, Rows: rows})
}

// handleHealth reports the hub and, when attached, the component health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	health := s.health
	s.mu.Unlock()

	status, code := "ok", http.StatusOK
	response := map[string]interface{}{
		"clients": s.hub.ClientCount(),
		"time":    time.Now().Unix(),
	}
	if health != nil {
		response["components"] = health.GetStatus()
		if !health.IsHealthy() {
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	response["status"] = status

	writeJSON(w, code, response)
}
