package trial

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"voxelmind.ai/internal/sim/geom"
	"voxelmind.ai/internal/sim/retry"
	"voxelmind.ai/internal/sim/rotation"
	"voxelmind.ai/internal/sim/shapegen"
	"voxelmind.ai/internal/sim/tuning"
)

type Difficulty struct {
	Level          int
	MinCubes       int
	MaxCubes       int
	NearMissChance float64
}

// DifficultyFor maps a level to its cube-count band and near-miss chance.
// The level is clamped to [1, MaxLevel] first.
func DifficultyFor(t tuning.Tuning, level int) Difficulty {
	level = t.ClampLevel(level)
	r := t.CubesForLevel(level)
	return Difficulty{
		Level:          level,
		MinCubes:       r.MinCubes,
		MaxCubes:       r.MaxCubes,
		NearMissChance: t.NearMissChance(level),
	}
}

// Composer builds trials from a single random source. It is not safe for
// concurrent use.
type Composer struct {
	tuning tuning.Tuning
	rng    *rand.Rand
	gen    *shapegen.Generator
}

func NewComposer(t tuning.Tuning, rng *rand.Rand) *Composer {
	return &Composer{
		tuning: t,
		rng:    rng,
		gen:    shapegen.New(rng, shapegen.LimitsFromTuning(t)),
	}
}

func (c *Composer) Tuning() tuning.Tuning { return c.tuning }

// GenerateShape grows a shape with a uniformly drawn size in [minCubes, maxCubes].
func (c *Composer) GenerateShape(minCubes, maxCubes int) geom.Polycube {
	return c.gen.ComplexShape(minCubes, maxCubes)
}

// Compose flips the match coin with probability SameProb and builds a trial.
func (c *Composer) Compose(level int) Trial {
	return c.ComposeWithTruth(level, c.rng.Float64() < c.tuning.SameProb)
}

// ComposeWithTruth builds a trial with the coin forced. The trial ID is drawn
// from the same source after the shapes, so a seed reproduces IDs too.
func (c *Composer) ComposeWithTruth(level int, truth bool) Trial {
	d := DifficultyFor(c.tuning, level)
	p := Params{Truth: truth, Level: d.Level}
	switch {
	case truth:
		p.Target, p.Probe, p.Steps = c.match(d)
		p.Kind = KindMatch
	default:
		p.Target = c.gen.ComplexShape(d.MinCubes, d.MaxCubes)
		if c.rng.Float64() < d.NearMissChance {
			probe, moved := c.gen.NearMiss(p.Target, 0)
			p.Probe = probe
			p.Kind = KindNearMiss
			if !moved {
				p.Kind = KindNearMissFallback
			}
		} else {
			p.Probe, _ = c.gen.Unrelated(p.Target, d.MinCubes, d.MaxCubes)
			p.Kind = KindUnrelated
		}
	}
	p.ID = c.newID()
	return New(p)
}

func (c *Composer) newID() string {
	id, err := uuid.NewRandomFromReader(rngReader{c.rng})
	if err != nil {
		// rngReader never fails.
		return uuid.NewString()
	}
	return id.String()
}

// rngReader adapts a rand.Rand to io.Reader.
type rngReader struct{ r *rand.Rand }

func (rr rngReader) Read(b []byte) (int, error) {
	for i := 0; i < len(b); i += 8 {
		v := rr.r.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return len(b), nil
}

type matchCandidate struct {
	base  geom.Polycube
	probe geom.Polycube
	steps rotation.Steps
}

// match draws a base shape and a rotation with at least one x-turn. When the
// rotated probe lands exactly on the base (identity composite, or a symmetric
// base) the rotation is redrawn, and after Retries.Match rotations the base
// itself is redrawn. Both loops are bounded by Retries.Match.
func (c *Composer) match(d Difficulty) (base, probe geom.Polycube, steps rotation.Steps) {
	bound := c.tuning.Retries.Match
	m, _ := retry.Attempt(bound, func(int) (matchCandidate, bool) {
		base := c.gen.ComplexShape(d.MinCubes, d.MaxCubes)
		return retry.Attempt(bound, func(int) (matchCandidate, bool) {
			s := rotation.Steps{1 + c.rng.IntN(3), c.rng.IntN(4), c.rng.IntN(4)}
			p := geom.ShiftToOrigin(rotation.RotateBySteps(base, s))
			return matchCandidate{base: base, probe: p, steps: s}, !geom.SameSet(base, p)
		}, nil)
	}, nil)
	return m.base, m.probe, m.steps
}
