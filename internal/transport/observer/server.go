package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelmind.ai/internal/observerproto"
	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/tuning"
)

type Config struct {
	Hub    *Hub
	Tuning tuning.Tuning
	// Active reports the number of open game sessions.
	Active func() int64
	Logger *zap.Logger

	// BaseContext bounds every monitor connection.
	BaseContext context.Context
}

// Server serves the loopback-only monitor endpoints.
type Server struct {
	cfg Config
	log *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(cfg Config) *Server {
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	if cfg.Active == nil {
		cfg.Active = func() int64 { return 0 }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.Named("observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Hub() *Hub { return s.cfg.Hub }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion:     observerproto.Version,
			GameProtocolVersion: protocol.Version,
			Params:              protocol.ParamsFrom(s.cfg.Tuning, 0),
			SessionsActive:      s.cfg.Active(),
			Observers:           s.cfg.Hub.Stats().Observers,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		oid := fmt.Sprintf("O%d", s.nextID.Add(1))
		member := s.cfg.Hub.join(oid)
		defer s.cfg.Hub.leave(oid)
		member.set(sub.SessionIDs, sub.SummariesOnly)

		ack, _ := json.Marshal(observerproto.SubscribedMsg{
			Type:            observerproto.TypeSubscribed,
			ProtocolVersion: observerproto.Version,
			ObserverID:      oid,
			Sessions:        len(sub.SessionIDs),
		})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
			return
		}
		s.log.Info("observer connected", zap.String("observer", oid), zap.Strings("sessions", sub.SessionIDs))

		ctx, cancel := context.WithCancel(s.cfg.BaseContext)
		defer cancel()

		// Writer goroutine. Closing the conn on exit unblocks the reader.
		writeErr := make(chan error, 1)
		go func() {
			defer conn.Close()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-member.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := decodeSubscribe(msg); ok {
				member.set(sub.SessionIDs, sub.SummariesOnly)
			}
		}

		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		cancel()
		<-writeErr
		s.log.Info("observer disconnected", zap.String("observer", oid))
	}
}

func decodeSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if len(sub.SessionIDs) > 256 {
		sub.SessionIDs = sub.SessionIDs[:256]
	}
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
