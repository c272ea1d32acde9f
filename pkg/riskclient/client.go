// Package riskclient calls a remote liqrisk server with retries and a
// circuit breaker.
package riskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	apperrors "liqrisk/pkg/errors"
	"liqrisk/pkg/report"
	"liqrisk/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// API paths
const (
	PathRisk     = "/api/v1/risk"
	PathCurveCSV = "/api/v1/risk/curve.csv"
	PathSweep    = "/api/v1/risk/sweep"
	PathHealth   = "/health"
)

// APIError is a non-2xx reply. It unwraps to the matching apperrors sentinel
// so callers can use errors.Is without caring about transport.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("API error: status=%d kind=%s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case http.StatusUnprocessableEntity:
		return apperrors.ErrDegenerateRatio
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	case http.StatusServiceUnavailable:
		return apperrors.ErrServerBusy
	default:
		return apperrors.ErrUnexpectedStatus
	}
}

// ComputeResponse mirrors the server's compute reply
type ComputeResponse struct {
	Result  liquidation.Result `json:"result"`
	Summary report.Summary     `json:"summary"`
}

type sweepResponse struct {
	Mode liquidation.Mode `json:"mode"`
	Rows []risk.SweepRow  `json:"rows"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// response is a fully read reply; bodies never outlive an attempt
type response struct {
	status int
	header http.Header
	body   []byte
}

type settings struct {
	maxRetries   int
	backoffMin   time.Duration
	backoffMax   time.Duration
	breakerDelay time.Duration
}

// Option tunes the resilience policies
type Option func(*settings)

// WithMaxRetries sets how many times a 5xx, 429 or network failure is retried
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithBackoff sets the retry backoff bounds
func WithBackoff(min, max time.Duration) Option {
	return func(s *settings) { s.backoffMin, s.backoffMax = min, max }
}

// WithBreakerDelay sets how long the circuit stays open
func WithBreakerDelay(d time.Duration) Option {
	return func(s *settings) { s.breakerDelay = d }
}

// Client talks to the liqrisk HTTP API
type Client struct {
	client   *http.Client
	baseURL  string
	pipeline failsafe.Executor[*response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	cfg := settings{
		maxRetries:   3,
		backoffMin:   100 * time.Millisecond,
		backoffMax:   2 * time.Second,
		breakerDelay: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	retryPolicy := retrypolicy.NewBuilder[*response]().
		HandleIf(func(resp *response, err error) bool {
			if err != nil {
				return !errors.Is(err, circuitbreaker.ErrOpen) &&
					!errors.Is(err, context.Canceled) &&
					!errors.Is(err, context.DeadlineExceeded)
			}
			return resp.status >= 500 || resp.status == http.StatusTooManyRequests
		}).
		WithBackoff(cfg.backoffMin, cfg.backoffMax).
		WithMaxRetries(cfg.maxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*response]().
		HandleIf(func(resp *response, err error) bool {
			if err != nil {
				return true
			}
			return resp.status >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(cfg.breakerDelay).
		Build()

	tracer := telemetry.GetTracer("risk-client")
	meter := telemetry.GetMeter("risk-client")

	reqCounter, _ := meter.Int64Counter("liqrisk_client_requests_total",
		metric.WithDescription("Total number of risk API requests"))
	errCounter, _ := meter.Int64Counter("liqrisk_client_errors_total",
		metric.WithDescription("Total number of failed risk API requests"))
	latencyHist, _ := meter.Float64Histogram("liqrisk_client_request_duration_seconds",
		metric.WithDescription("Risk API request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		pipeline:    failsafe.With[*response](retryPolicy, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Compute evaluates one input snapshot remotely
func (c *Client) Compute(ctx context.Context, in liquidation.Inputs) (ComputeResponse, error) {
	var out ComputeResponse
	resp, err := c.do(ctx, http.MethodPost, PathRisk, nil, in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return out, fmt.Errorf("failed to decode compute response: %w", err)
	}
	return out, nil
}

// Sweep evaluates a range of targets remotely
func (c *Client) Sweep(ctx context.Context, req risk.SweepRequest) ([]risk.SweepRow, error) {
	resp, err := c.do(ctx, http.MethodPost, PathSweep, nil, req)
	if err != nil {
		return nil, err
	}
	var out sweepResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sweep response: %w", err)
	}
	return out.Rows, nil
}

// CurveCSV downloads the curve export and its suggested file name
func (c *Client) CurveCSV(ctx context.Context, in liquidation.Inputs) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, PathCurveCSV, queryFor(in), nil)
	if err != nil {
		return nil, "", err
	}

	name := report.CurveFileName(in.Mode)
	if _, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return resp.body, name, nil
}

// Health returns nil when the server reports ok
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, PathHealth, nil, nil)
	return err
}

func queryFor(in liquidation.Inputs) url.Values {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	q := url.Values{}
	q.Set("mode", string(in.Mode))
	q.Set("initial", f(in.Initial()))
	q.Set("final", f(in.Final()))
	if in.LLTV != 0 {
		q.Set("lltv", f(in.LLTV))
	}
	if in.Curve.MaxDebtIncreasePct != 0 {
		q.Set("max_debt_increase_pct", f(in.Curve.MaxDebtIncreasePct))
	}
	if in.Curve.StepPct != 0 {
		q.Set("step_pct", f(in.Curve.StepPct))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*response, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		),
	)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)

	// last is the reply of the final attempt, kept in case the policy
	// reports exhaustion without it
	var last *response
	resp, err := c.pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*response]) (*response, error) {
		last = nil
		// A fresh request per attempt so the body can be replayed
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, err
		}
		last = &response{status: httpResp.StatusCode, header: httpResp.Header, body: data}
		return last, nil
	})
	if resp == nil && err != nil && !errors.Is(err, circuitbreaker.ErrOpen) {
		resp = last
	}

	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	// Retries exhausted on a status code still yield the last response
	if resp != nil && resp.status >= 400 {
		span.SetAttributes(attribute.Int("http.status_code", resp.status))
		apiErr := &APIError{StatusCode: resp.status}
		var eb errorBody
		if json.Unmarshal(resp.body, &eb) == nil {
			apiErr.Message, apiErr.Kind = eb.Error, eb.Kind
		}
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
			attribute.Int("status", resp.status),
		))
		span.RecordError(apiErr)
		return nil, apiErr
	}

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", path),
			attribute.String("error", "pipeline_failed"),
		))
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			return nil, fmt.Errorf("%w: circuit open: %v", apperrors.ErrServerBusy, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.status))
	return resp, nil
}
