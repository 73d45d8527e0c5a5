package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelmind.ai/internal/protocol"
	"voxelmind.ai/internal/sim/rotation"
)

type playerConfig struct {
	Participant string
	Seed        uint64 // 0 lets the server pick
	ErrorRate   float64
	TimeoutRate float64
	Think       time.Duration
	RNGSeed     uint64
}

// player answers every trial by checking rotational equivalence, then flips
// or skips a fraction of answers to simulate a human.
type player struct {
	conn *websocket.Conn
	cfg  playerConfig
	rng  *rand.Rand
	log  *zap.Logger

	welcome protocol.WelcomeMsg
}

func newPlayer(conn *websocket.Conn, cfg playerConfig, logger *zap.Logger) *player {
	return &player{
		conn: conn,
		cfg:  cfg,
		rng:  rand.New(rand.NewPCG(cfg.RNGSeed, cfg.RNGSeed^0x9e3779b97f4a7c15)),
		log:  logger,
	}
}

func (p *player) play(ctx context.Context) (protocol.SummaryMsg, error) {
	var sum protocol.SummaryMsg

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ParticipantHint: p.cfg.Participant,
	}
	if p.cfg.Seed != 0 {
		seed := p.cfg.Seed
		hello.Seed = &seed
	}
	if err := p.conn.WriteJSON(hello); err != nil {
		return sum, fmt.Errorf("send HELLO: %w", err)
	}
	if err := p.await(ctx, protocol.TypeWelcome, &p.welcome); err != nil {
		return sum, err
	}
	p.log.Info("welcome",
		zap.String("session", p.welcome.SessionID),
		zap.Uint64("seed", p.welcome.Params.Seed),
		zap.Int("max_level", p.welcome.Params.MaxLevel),
	)

	if err := p.cmd(protocol.CmdStart, nil); err != nil {
		return sum, err
	}
	for {
		if err := p.cmd(protocol.CmdRound, nil); err != nil {
			return sum, err
		}
		var tr protocol.TrialMsg
		if err := p.await(ctx, protocol.TypeTrial, &tr); err != nil {
			return sum, err
		}

		if p.rng.Float64() >= p.cfg.TimeoutRate {
			same := rotation.EqualUnderAnyRotation(tr.Target.Polycube(), tr.Probe.Polycube())
			if p.rng.Float64() < p.cfg.ErrorRate {
				same = !same
			}
			if p.cfg.Think > 0 {
				select {
				case <-ctx.Done():
					return sum, ctx.Err()
				case <-time.After(p.cfg.Think):
				}
			}
			if err := p.cmd(protocol.CmdAnswer, &same); err != nil {
				return sum, err
			}
		}

		var res protocol.ResultMsg
		if err := p.await(ctx, protocol.TypeResult, &res); err != nil {
			return sum, err
		}
		p.log.Info("result",
			zap.Int("round", res.Outcome.Round),
			zap.Int("level", res.Outcome.Level),
			zap.Int("cubes", res.Outcome.CubeCount),
			zap.Bool("correct", res.Outcome.Correct),
			zap.Bool("timeout", res.Outcome.IsTimeout),
			zap.Int64("rt_ms", res.Outcome.ReactionTimeMs),
		)
		if res.Outcome.Level >= p.welcome.Params.MaxLevel {
			break
		}
	}

	if err := p.await(ctx, protocol.TypeSummary, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

func (p *player) cmd(name string, choice *bool) error {
	return p.conn.WriteJSON(protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		Cmd:             name,
		Choice:          choice,
	})
}

// await skips STATE frames until typ arrives. An ERROR fails the session.
func (p *player) await(ctx context.Context, typ string, out any) error {
	for {
		if dl, ok := ctx.Deadline(); ok {
			_ = p.conn.SetReadDeadline(dl)
		}
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case typ:
			return json.Unmarshal(msg, out)
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return &protocol.CodeError{Code: e.Code, Message: e.Message}
		}
	}
}
