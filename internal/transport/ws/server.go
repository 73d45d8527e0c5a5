package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/session"
	"voxelmind.ai/internal/sim/shapegen"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
)

const readIdle = 60 * time.Second

type Config struct {
	Tuning    tuning.Tuning
	Outcomes  session.OutcomeSink
	Summaries session.SummarySink
	Metrics   *Metrics
	Logger    *zap.Logger

	// BaseContext bounds every session; cancelling it ends all of them.
	BaseContext context.Context
	// Clock defaults to the system clock.
	Clock session.Clock
	// Seed picks the generator seed when HELLO carries none.
	Seed func() uint64
}

type Server struct {
	cfg Config
	log *zap.Logger

	upgrader websocket.Upgrader
	active   sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &Metrics{}
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Seed == nil {
		cfg.Seed = rand.Uint64
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Metrics() *Metrics { return s.cfg.Metrics }

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() { s.active.Wait() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.active.Add(1)
		defer s.active.Done()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		seed := s.cfg.Seed()
		if hello.Seed != nil {
			seed = *hello.Seed
		}

		ctx, cancel := context.WithCancel(s.cfg.BaseContext)
		defer cancel()

		c := newConnObserver(s.cfg.Tuning, s.cfg.Metrics, cancel)
		runner := session.NewRunner(session.RunnerConfig{
			Composer:  trial.NewComposer(s.cfg.Tuning, shapegen.NewRand(seed)),
			Clock:     s.cfg.Clock,
			Observer:  c,
			Outcomes:  s.cfg.Outcomes,
			Summaries: s.cfg.Summaries,
			Logger:    s.cfg.Logger,
		})
		sessionID := runner.SessionID()
		c.sessionID = sessionID

		if err := writeJSON(conn, protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sessionID,
			Params:          protocol.ParamsFrom(s.cfg.Tuning, seed),
		}); err != nil {
			return
		}

		s.cfg.Metrics.sessionsActive.Add(1)
		s.cfg.Metrics.sessionsTotal.Add(1)
		defer s.cfg.Metrics.sessionsActive.Add(-1)
		s.log.Info("session connected",
			zap.String("session", sessionID),
			zap.Uint64("seed", seed),
			zap.String("participant", hello.ParticipantHint),
			zap.String("remote", r.RemoteAddr),
		)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("session runner stopped", zap.String("session", sessionID), zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			c.writeLoop(ctx, conn)
		}()

		s.readLoop(ctx, conn, runner, c)

		cancel()
		wg.Wait()
		s.log.Info("session disconnected", zap.String("session", sessionID))
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, runner *session.Runner, c *connObserver) {
	// Pings keep an otherwise silent client alive.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			c.sendError(protocol.ErrProtoBadRequest, "bad json")
			continue
		}
		if base.Type != protocol.TypeCmd {
			c.sendError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
			continue
		}
		cmd, err := protocol.DecodeCmd(msg)
		if err != nil {
			var ce *protocol.CodeError
			if errors.As(err, &ce) {
				c.sendError(ce.Code, ce.Message)
			} else {
				c.sendError(protocol.ErrProtoBadRequest, err.Error())
			}
			continue
		}
		if err := dispatch(ctx, runner, cmd); err != nil {
			if errors.Is(err, session.ErrRunnerStopped) || ctx.Err() != nil {
				return
			}
			c.sendError(protocol.ErrBusy, err.Error())
		}
	}
}

func dispatch(ctx context.Context, runner *session.Runner, cmd protocol.CmdMsg) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	switch cmd.Cmd {
	case protocol.CmdStart:
		return runner.Start(ctx)
	case protocol.CmdRound:
		return runner.StartRound(ctx)
	case protocol.CmdAnswer:
		return runner.Answer(ctx, *cmd.Choice)
	case protocol.CmdReset:
		return runner.Reset(ctx)
	}
	return nil
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closePolicy(conn, "bad HELLO")
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "server speaks "+protocol.Version))
		closePolicy(conn, "bad protocol_version")
		return hello, false
	}
	return hello, true
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
