package liveserver

import (
	"liqrisk/internal/risk/liquidation"
	"liqrisk/pkg/report"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeWelcome  = "welcome"
	TypeResult   = "result"
	TypeError    = "error"
	TypeShutdown = "shutdown"
)

// Request is one client slider tick. ID is echoed back on the reply.
type Request struct {
	ID string `json:"id,omitempty"`
	liquidation.Inputs
}

// RiskResponse is the body of a successful computation
type RiskResponse struct {
	Result  liquidation.Result `json:"result"`
	Summary report.Summary     `json:"summary"`
}

// ErrorResponse is the body of a rejected request
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// WelcomeData is sent once after a client connects
type WelcomeData struct {
	ClientID string             `json:"client_id"`
	Modes    []liquidation.Mode `json:"modes"`
}

// NewMessage creates a Message
func NewMessage(msgType string, data interface{}) Message {
	return Message{
		Type: msgType,
		Data: data,
	}
}

// NewResultMessage wraps a computation for the client that asked for it
func NewResultMessage(id string, resp RiskResponse) Message {
	return Message{Type: TypeResult, ID: id, Data: resp}
}

// NewErrorMessage wraps a rejection for the client that asked for it
func NewErrorMessage(id string, resp ErrorResponse) Message {
	return Message{Type: TypeError, ID: id, Data: resp}
}
