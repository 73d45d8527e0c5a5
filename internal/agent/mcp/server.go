package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelmind.ai/internal/agent/bridge"
	"voxelmind.ai/internal/protocol"
)

const mcpProtocolVersion = "2024-11-05"

type Bridge interface {
	GetStatus(ctx context.Context, sessionKey string) (bridge.Status, error)
	Begin(ctx context.Context, sessionKey string) (bridge.Status, error)
	NextTrial(ctx context.Context, sessionKey string, opts bridge.NextTrialOpts) (bridge.TrialResult, error)
	Answer(ctx context.Context, sessionKey string, args bridge.AnswerArgs) (bridge.AnswerResult, error)
	Summary(ctx context.Context, sessionKey string, opts bridge.SummaryOpts) (protocol.SummaryMsg, error)
	ResetGame(ctx context.Context, sessionKey string) (bridge.Status, error)
	Disconnect(ctx context.Context, sessionKey string) error
}

type Config struct {
	Bridge          Bridge
	HMACSecret      string
	AllowLegacyHMAC bool
	ReplayTTL       time.Duration
	Logger          *zap.Logger
}

type Server struct {
	bridge      Bridge
	hmacSecret  []byte
	allowLegacy bool
	replay      *replayGuard
	log         *zap.Logger
	now         func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("nil bridge")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		bridge:      cfg.Bridge,
		allowLegacy: cfg.AllowLegacyHMAC,
		log:         cfg.Logger.Named("mcp"),
		now:         time.Now,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(cfg.ReplayTTL)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	sessionKey := strings.TrimSpace(r.Header.Get(headerAgentID))
	if len(s.hmacSecret) > 0 {
		vr := verifyHMAC(r, body, s.hmacSecret, s.allowLegacy, s.now())
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.replay.allow(vr.SessionKey, vr.Signature, s.now()) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
		sessionKey = vr.SessionKey
	} else if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}
	if sessionKey == "" {
		sessionKey = "default"
	}

	rw.Header().Set("Content-Type", "application/json")
	c, rerr := decodeCall(body)
	if rerr != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(c.fail(rerr))
		return
	}

	resp := s.dispatch(r.Context(), sessionKey, c)
	if c.isNotification() {
		rw.WriteHeader(http.StatusAccepted)
		return
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sessionKey string, c call) reply {
	switch c.Method {
	case "initialize":
		return c.ok(map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"serverInfo":      map[string]any{"name": "voxelmind", "version": protocol.Version},
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "notifications/initialized":
		return c.ok(map[string]any{})

	case "list_tools", "tools/list":
		return c.ok(map[string]any{"tools": toolDescriptors})

	case "call_tool", "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(c.Params) == 0 {
			return c.fail(&replyErr{Code: codeInvalidParams, Message: "missing params"})
		}
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return c.fail(&replyErr{Code: codeInvalidParams, Message: "params must be {name, arguments}"})
		}
		if p.Name == "" {
			return c.fail(&replyErr{Code: codeInvalidParams, Message: "missing tool name"})
		}
		if !isKnownTool(p.Name) {
			return c.fail(&replyErr{
				Code:    codeMethodNotFound,
				Message: "unknown tool " + p.Name,
				Data:    &errorData{Agent: sessionKey, Tool: p.Name},
			})
		}
		out, err := s.callTool(ctx, sessionKey, p.Name, p.Arguments)
		if err != nil {
			s.log.Debug("tool failed", zap.String("agent", sessionKey), zap.String("tool", p.Name), zap.Error(err))
			return c.fail(toolFailure(sessionKey, p.Name, err))
		}
		return c.ok(out)

	default:
		return c.fail(&replyErr{Code: codeMethodNotFound, Message: "unknown method " + c.Method})
	}
}

func (s *Server) callTool(ctx context.Context, sessionKey string, name string, args json.RawMessage) (any, error) {
	switch name {
	case toolGetStatus:
		return s.bridge.GetStatus(ctx, sessionKey)

	case toolStart:
		return s.bridge.Begin(ctx, sessionKey)

	case toolNextTrial:
		var o bridge.NextTrialOpts
		if err := decodeArgs(args, &o); err != nil {
			return nil, err
		}
		return s.bridge.NextTrial(ctx, sessionKey, o)

	case toolAnswer:
		var a bridge.AnswerArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Same == nil {
			return nil, fmt.Errorf("%w: missing same", errBadArguments)
		}
		return s.bridge.Answer(ctx, sessionKey, a)

	case toolGetSummary:
		var o bridge.SummaryOpts
		if err := decodeArgs(args, &o); err != nil {
			return nil, err
		}
		return s.bridge.Summary(ctx, sessionKey, o)

	case toolReset:
		return s.bridge.ResetGame(ctx, sessionKey)

	case toolDisconnect:
		if err := s.bridge.Disconnect(ctx, sessionKey); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, out); err != nil {
		return fmt.Errorf("%w: %v", errBadArguments, err)
	}
	return nil
}
