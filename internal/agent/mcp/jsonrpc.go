package mcp

import (
	"encoding/json"
	"errors"

	"voxelmind.ai/internal/agent/bridge"
)

// Standard JSON-RPC codes plus the -320xx range for bridge failures.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolFailed     = -32000
	codeNotConnected   = -32001
	codeServerTimeout  = -32002
)

// errBadArguments marks tool arguments that decoded but cannot be used.
var errBadArguments = errors.New("bad arguments")

type call struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Calls without an id are notifications and get no response body.
func (c call) isNotification() bool { return len(c.ID) == 0 }

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *replyErr       `json:"error,omitempty"`
}

type replyErr struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *errorData `json:"data,omitempty"`
}

// errorData tells an agent which of its calls failed and whether retrying
// after get_status makes sense.
type errorData struct {
	Agent     string `json:"agent,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (c call) ok(result any) reply {
	return reply{JSONRPC: "2.0", ID: c.ID, Result: result}
}

func (c call) fail(e *replyErr) reply {
	return reply{JSONRPC: "2.0", ID: c.ID, Error: e}
}

// toolFailure maps a bridge error onto a code an agent can branch on.
func toolFailure(agent, tool string, err error) *replyErr {
	e := &replyErr{
		Code:    codeToolFailed,
		Message: err.Error(),
		Data:    &errorData{Agent: agent, Tool: tool},
	}
	switch {
	case errors.Is(err, errBadArguments):
		e.Code = codeInvalidParams
	case errors.Is(err, bridge.ErrNotConnected):
		e.Code = codeNotConnected
		e.Data.Retryable = true
	case errors.Is(err, bridge.ErrTimeout):
		e.Code = codeServerTimeout
		e.Data.Retryable = true
	}
	return e
}

// decodeCall parses one request body. The returned error is ready to send.
func decodeCall(body []byte) (call, *replyErr) {
	var c call
	if err := json.Unmarshal(body, &c); err != nil {
		return call{}, &replyErr{Code: codeParseError, Message: "body is not a json-rpc object"}
	}
	if c.JSONRPC != "" && c.JSONRPC != "2.0" {
		return c, &replyErr{Code: codeInvalidRequest, Message: "jsonrpc must be 2.0"}
	}
	if c.Method == "" {
		return c, &replyErr{Code: codeInvalidRequest, Message: "missing method"}
	}
	return c, nil
}
