package liveserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liqrisk/internal/risk"
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/logging"
	"liqrisk/pkg/report"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, allowedOrigins []string) (*Server, *Hub, *httptest.Server) {
	t.Helper()
	logger := logging.NewNopLogger()

	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, risk.NewCalculator(nil, nil, logger), logger, allowedOrigins)
	server.SetRateLimit(0, 0)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, hub, ts
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer(t *testing.T) {
	hub := NewHub(nil)
	allowedOrigins := []string{"http://localhost:8081"}
	server := NewServer(hub, nil, nil, allowedOrigins)

	assert.NotNil(t, server)
	assert.Equal(t, hub, server.hub)
	assert.Equal(t, allowedOrigins, server.gate.origins)
	assert.False(t, server.IsRunning())
	assert.Empty(t, server.Address())
}

func TestComputePost(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	resp := postJSON(t, ts.URL+"/api/v1/risk", `{"mode":"hf","initial_hf":1.5,"final_hf":1.0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body RiskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.InDelta(t, 1.5, body.Result.Ratio, 1e-12)
	assert.InDelta(t, 50.0, body.Result.DebtOnlyPct, 1e-9)
	assert.Len(t, body.Result.Curve, 51)
	assert.Equal(t, "-33.33", body.Summary.CollateralOnlyPct.StringFixed(2))
	assert.Equal(t, report.MessageHFSafe, body.Summary.RiskMessage)
}

func TestComputePostErrors(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"zero final hf", `{"mode":"hf","initial_hf":1.5,"final_hf":0}`, http.StatusUnprocessableEntity, risk.FailureDegenerateRatio},
		{"negative ltv", `{"mode":"ltv","initial_ltv":-0.6,"final_ltv":0.85}`, http.StatusBadRequest, risk.FailureInvalidInput},
		{"unknown mode", `{"mode":"apr","initial_hf":1.5,"final_hf":1}`, http.StatusBadRequest, risk.FailureInvalidInput},
		{"malformed json", `{"mode":`, http.StatusBadRequest, risk.FailureInvalidInput},
		{"unknown field", `{"mode":"hf","initial":1.5}`, http.StatusBadRequest, risk.FailureInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/risk", tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantKind, body.Kind)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestComputeGet(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/api/v1/risk?mode=ltv&initial=60%25&final=0.85")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body RiskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.InDelta(t, 0.85/0.60, body.Result.Ratio, 1e-12)
	assert.Equal(t, "41.67", body.Summary.DebtOnlyPct.StringFixed(2))
	assert.Equal(t, report.MessageLTVSafe, body.Summary.RiskMessage)
}

func TestComputeGetCurveOptions(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/api/v1/risk?mode=hf&initial=1.5&final=1&step_pct=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body RiskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Result.Curve, 6)

	bad, err := http.Get(ts.URL + "/api/v1/risk?mode=hf&initial=1.5&final=1&step_pct=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCurveCSV(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/api/v1/risk/curve.csv?mode=hf&initial=1.5&final=1.0")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, report.CSVContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="liquidation_scenarios_hf.csv"`, resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, "debt_increase,collateral_decrease", lines[0])
	assert.Equal(t, "0.00,33.33", lines[1])
	assert.Len(t, lines, 52)
}

func TestSweep(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	resp := postJSON(t, ts.URL+"/api/v1/risk/sweep", `{"mode":"hf","initial":1.5,"from":0.5,"to":1.5,"step":0.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body SweepResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rows, 3)
	assert.Equal(t, liquidation.ModeHealthFactor, body.Mode)
	assert.Equal(t, 0.5, body.Rows[0].Final)
	require.NotNil(t, body.Rows[0].Result)
	assert.True(t, body.Rows[0].Result.Liquidatable)

	bad := postJSON(t, ts.URL+"/api/v1/risk/sweep", `{"mode":"hf","initial":1.5,"from":2,"to":1,"step":0.5}`)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	huge := postJSON(t, ts.URL+"/api/v1/risk/sweep", `{"mode":"hf","initial":1.5,"from":0,"to":1e19,"step":1}`)
	assert.Equal(t, http.StatusBadRequest, huge.StatusCode)
}

func TestRateLimit(t *testing.T) {
	server, _, ts := newTestServer(t, []string{"*"})
	server.SetRateLimit(1, 1)

	first, err := http.Get(ts.URL + "/api/v1/risk?mode=hf&initial=1.5&final=1")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(ts.URL + "/api/v1/risk?mode=hf&initial=1.5&final=1")
	require.NoError(t, err)
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body.Kind)
}

type fakeHealth struct{ healthy bool }

func (f *fakeHealth) Register(string, func() error) {}
func (f *fakeHealth) GetStatus() map[string]string {
	if f.healthy {
		return map[string]string{"engine": "UP"}
	}
	return map[string]string{"engine": "DOWN: boom"}
}
func (f *fakeHealth) IsHealthy() bool { return f.healthy }

func TestServerHealthEndpoint(t *testing.T) {
	server, _, ts := newTestServer(t, []string{"*"})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	assert.Equal(t, "ok", response["status"])
	assert.NotNil(t, response["clients"])

	server.SetHealthMonitor(&fakeHealth{healthy: false})
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "degraded", response["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"*"})

	_ = postJSON(t, ts.URL+"/api/v1/risk", `{"mode":"hf","initial_hf":1.5,"final_hf":1.0}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "liqrisk_http_requests_total")
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(wsURL, headers)
}

func readMessage(t *testing.T, ws *websocket.Conn) Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestWebSocketCompute(t *testing.T) {
	_, hub, ts := newTestServer(t, []string{"http://test.local"})

	ws, _, err := dialWS(t, ts, "http://test.local")
	require.NoError(t, err)
	defer ws.Close()

	welcome := readMessage(t, ws)
	assert.Equal(t, TypeWelcome, welcome.Type)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "tick-1", "mode": "hf", "initial_hf": 1.5, "final_hf": 0.9,
	}))
	msg := readMessage(t, ws)
	assert.Equal(t, TypeResult, msg.Type)
	assert.Equal(t, "tick-1", msg.ID)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	result := data["result"].(map[string]interface{})
	assert.Equal(t, true, result["liquidatable"])
	summary := data["summary"].(map[string]interface{})
	assert.Equal(t, report.MessageHFLiquidatable, summary["risk_message"])

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"id": "tick-2", "mode": "hf", "initial_hf": 1.5, "final_hf": 0,
	}))
	msg = readMessage(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "tick-2", msg.ID)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, risk.FailureDegenerateRatio, data["kind"])

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readMessage(t, ws)
	assert.Equal(t, TypeError, msg.Type)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, risk.FailureInvalidInput, data["kind"])

	ws.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketOriginRejected(t *testing.T) {
	_, _, ts := newTestServer(t, []string{"http://localhost:8081"})

	ws, resp, err := dialWS(t, ts, "http://evil.example")
	assert.Error(t, err)
	if ws != nil {
		ws.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialWS(t, ts, "")
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWildcardOriginRejectedInProduction(t *testing.T) {
	server, _, _ := newTestServer(t, []string{"*"})
	server.SetProduction(true)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://test.local")
	assert.False(t, server.checkOrigin(req))

	server.SetProduction(false)
	assert.True(t, server.checkOrigin(req))
}

func TestWebSocketConnectionLimit(t *testing.T) {
	server, _, ts := newTestServer(t, []string{"*"})
	server.SetMaxConnections(1)

	first, _, err := dialWS(t, ts, "http://test.local")
	require.NoError(t, err)
	defer first.Close()

	second, resp, err := dialWS(t, ts, "http://test.local")
	assert.Error(t, err)
	if second != nil {
		second.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewServer(hub, risk.NewCalculator(nil, nil, logging.NewNopLogger()), nil, []string{"*"})

	done := make(chan error, 1)
	go func() {
		done <- server.Start(ctx, "127.0.0.1:0")
	}()

	assert.Eventually(t, server.IsRunning, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(server.Address(), "127.0.0.1:"))
	assert.NotEqual(t, "127.0.0.1:0", server.Address())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerStopNotifiesSessions(t *testing.T) {
	// Hub and server share one context, as in the application runners
	for i := 0; i < 10; i++ {
		hub := NewHub(nil)
		server := NewServer(hub, risk.NewCalculator(nil, nil, logging.NewNopLogger()), nil, []string{"*"})

		ctx, cancel := context.WithCancel(context.Background())
		hubDone := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(hubDone)
		}()
		done := make(chan error, 1)
		go func() { done <- server.Start(ctx, "127.0.0.1:0") }()
		require.Eventually(t, func() bool { return server.Address() != "" }, 2*time.Second, 10*time.Millisecond)

		headers := http.Header{}
		headers.Set("Origin", "http://test.local")
		ws, _, err := websocket.DefaultDialer.Dial("ws://"+server.Address()+RouteWS, headers)
		require.NoError(t, err)

		assert.Equal(t, TypeWelcome, readMessage(t, ws).Type)
		require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

		cancel()
		assert.Equal(t, TypeShutdown, readMessage(t, ws).Type)

		// Exactly one notice, then the close frame
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err = ws.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure), "got %v", err)
		ws.Close()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
		<-hubDone
	}
}
