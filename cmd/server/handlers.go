package main

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"voxelmind.ai/internal/persistence/indexdb"
	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/shapegen"
	"voxelmind.ai/internal/sim/trial"
	"voxelmind.ai/internal/sim/tuning"
	"voxelmind.ai/internal/transport/observer"
	"voxelmind.ai/internal/transport/ws"
)

type muxDeps struct {
	tuning   tuning.Tuning
	ws       *ws.Server
	observer *observer.Server // nil without admin
	backends *backends
	logger   *zap.Logger
	admin    bool
}

func newMux(d muxDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		d.ws.Metrics().WritePrometheus(rw)
		if d.backends != nil {
			d.backends.writeMetrics(rw)
		}
	})
	mux.HandleFunc("/v1/trial", trialHandler(d.tuning))
	mux.HandleFunc("/v1/ws", d.ws.Handler())

	if d.admin {
		var idx *indexdb.SQLiteIndex
		if d.backends != nil {
			idx = d.backends.index
		}
		mux.HandleFunc("/admin/v1/state", loopbackOnly(stateHandler(d)))
		mux.HandleFunc("/admin/v1/sessions", loopbackOnly(sessionsHandler(idx)))
		mux.HandleFunc("/admin/v1/trials", loopbackOnly(trialsHandler(idx)))
		if d.observer != nil {
			mux.HandleFunc("/admin/v1/observer/bootstrap", d.observer.BootstrapHandler())
			mux.HandleFunc("/admin/v1/observer/ws", d.observer.WSHandler())
		}
	} else {
		d.logger.Info("admin endpoints disabled")
	}
	return mux
}

type previewResponse struct {
	protocol.TrialMsg
	Seed uint64 `json:"seed"`
}

// trialHandler composes one trial outside any session and reveals its answer.
// Query: level (default 1), seed (default random), truth (true|false, default
// drawn from same_prob).
func trialHandler(tune tuning.Tuning) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()

		level := 1
		if v := strings.TrimSpace(q.Get("level")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "level must be an integer")
				return
			}
			level = n
		}
		seed := rand.Uint64()
		if v := strings.TrimSpace(q.Get("seed")); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "seed must be an unsigned integer")
				return
			}
			seed = n
		}

		comp := trial.NewComposer(tune, shapegen.NewRand(seed))
		var t trial.Trial
		switch strings.ToLower(strings.TrimSpace(q.Get("truth"))) {
		case "":
			t = comp.Compose(level)
		case "true", "1":
			t = comp.ComposeWithTruth(level, true)
		case "false", "0":
			t = comp.ComposeWithTruth(level, false)
		default:
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "truth must be true or false")
			return
		}

		msg := protocol.TrialFrom("", t, 0, tune.TimeLimit())
		msg.Reveal = protocol.RevealOf(t)
		writeJSON(rw, http.StatusOK, previewResponse{TrialMsg: msg, Seed: seed})
	}
}

func stateHandler(d muxDeps) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp := struct {
			SessionsActive int64           `json:"sessions_active"`
			MaxLevel       int             `json:"max_level"`
			TimeLimitMs    int64           `json:"time_limit_ms"`
			Index          *indexdb.Stats  `json:"index,omitempty"`
			Observer       *observer.Stats `json:"observer,omitempty"`
		}{
			SessionsActive: d.ws.Metrics().SessionsActive(),
			MaxLevel:       d.tuning.MaxLevel,
			TimeLimitMs:    d.tuning.TimeLimit().Milliseconds(),
		}
		if d.backends != nil && d.backends.index != nil {
			st := d.backends.index.Stats()
			resp.Index = &st
		}
		if d.observer != nil {
			st := d.observer.Hub().Stats()
			resp.Observer = &st
		}
		writeJSON(rw, http.StatusOK, resp)
	}
}

func sessionsHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if idx == nil {
			writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, "index disabled")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rows, err := idx.ListSessions(ctx, limit)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"sessions": rows})
	}
}

func trialsHandler(idx *indexdb.SQLiteIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if idx == nil {
			writeError(rw, http.StatusServiceUnavailable, protocol.ErrInternal, "index disabled")
			return
		}
		id := strings.TrimSpace(r.URL.Query().Get("session"))
		if id == "" {
			writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, "missing session")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		rows, err := idx.ListTrials(ctx, id)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"session_id": id, "trials": rows})
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
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

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.NewError(code, msg))
}
