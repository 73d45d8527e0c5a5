// Package shapegen grows random polycubes and derives distractors from them.
//
// Growth is a random walk over already-placed cubes: every step picks a
// uniformly random placed cube and a uniformly random face direction. This
// does not sample uniformly from all polycubes of a given size; it favours
// branchy shapes. That bias is accepted for trial generation.
package shapegen

import (
	"math/rand/v2"

	"github.com/zyedidia/generic/mapset"

	"voxelmind.ai/internal/sim/geom"
	"voxelmind.ai/internal/sim/retry"
	"voxelmind.ai/internal/sim/rotation"
	"voxelmind.ai/internal/sim/tuning"
)

type Limits struct {
	GrowAttemptsPerCube int
	Asymmetry           int
	NearMiss            int
	Unrelated           int
	Fallback            tuning.CubeRange
}

func LimitsFromTuning(t tuning.Tuning) Limits {
	return Limits{
		GrowAttemptsPerCube: t.Retries.GrowAttemptsPerCube,
		Asymmetry:           t.Retries.Asymmetry,
		NearMiss:            t.Retries.NearMiss,
		Unrelated:           t.Retries.Unrelated,
		Fallback:            t.NearMissFallback,
	}
}

// Generator is not safe for concurrent use; it shares its random source with
// whoever created it.
type Generator struct {
	rng    *rand.Rand
	limits Limits
}

func New(rng *rand.Rand, limits Limits) *Generator {
	if limits.GrowAttemptsPerCube < 1 {
		limits.GrowAttemptsPerCube = 1
	}
	return &Generator{rng: rng, limits: limits}
}

// NewRand returns the seeded source used throughout the simulation.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (g *Generator) Limits() Limits { return g.limits }

// Grow builds a connected polycube of n cubes starting from the origin, then
// shifts it so its minimum corner is the origin. n < 1 is treated as 1.
//
// Each attempt almost surely succeeds, but attempts are capped at
// n*GrowAttemptsPerCube; when the cap is hit the smaller shape built so far
// is returned with ok=false.
func (g *Generator) Grow(n int) (p geom.Polycube, ok bool) {
	if n < 1 {
		n = 1
	}
	placed := make([]geom.Vec3i, 1, n)
	set := mapset.New[geom.Vec3i]()
	set.Put(geom.Vec3i{})

	budget := n * g.limits.GrowAttemptsPerCube
	for attempt := 0; len(placed) < n && attempt < budget; attempt++ {
		seed := placed[g.rng.IntN(len(placed))]
		next := geom.Add(seed, geom.Dirs[g.rng.IntN(len(geom.Dirs))])
		if set.Has(next) {
			continue
		}
		set.Put(next)
		placed = append(placed, next)
	}
	return geom.ShiftToOrigin(placed), len(placed) == n
}

// ComplexShape grows a polycube whose size is drawn uniformly from
// [minCubes, maxCubes].
func (g *Generator) ComplexShape(minCubes, maxCubes int) geom.Polycube {
	if maxCubes < minCubes {
		minCubes, maxCubes = maxCubes, minCubes
	}
	if minCubes < 1 {
		minCubes = 1
	}
	if maxCubes < minCubes {
		maxCubes = minCubes
	}
	n := minCubes + g.rng.IntN(maxCubes-minCubes+1)
	p, _ := g.Grow(n)
	return p
}

// AsymmetricShape keeps drawing until the shape has no non-identity
// self-rotation. After Limits.Asymmetry draws the last candidate is accepted
// as is.
func (g *Generator) AsymmetricShape(minCubes, maxCubes int) (geom.Polycube, bool) {
	return retry.Attempt(g.limits.Asymmetry, func(int) (geom.Polycube, bool) {
		s := g.ComplexShape(minCubes, maxCubes)
		return s, !rotation.SelfSymmetric(s)
	}, nil)
}

// Unrelated draws independent shapes until one is not rotation-equivalent to
// base. After Limits.Unrelated draws the last candidate is returned with
// ok=false.
func (g *Generator) Unrelated(base geom.Polycube, minCubes, maxCubes int) (geom.Polycube, bool) {
	return retry.Attempt(g.limits.Unrelated, func(int) (geom.Polycube, bool) {
		s := g.ComplexShape(minCubes, maxCubes)
		return s, !rotation.EqualUnderAnyRotation(base, s)
	}, nil)
}

// NearMiss moves exactly one cube of base by one step so that the result stays
// connected and is not rotation-equivalent to base. It tries maxTries random
// moves (Limits.NearMiss when maxTries < 1); if none qualifies it returns an
// unrelated shape from the fallback size range and moved=false.
func (g *Generator) NearMiss(base geom.Polycube, maxTries int) (p geom.Polycube, moved bool) {
	if maxTries < 1 {
		maxTries = g.limits.NearMiss
	}
	fallback := func() geom.Polycube {
		s, _ := g.Unrelated(base, g.limits.Fallback.MinCubes, g.limits.Fallback.MaxCubes)
		return s
	}
	if len(base) == 0 {
		return fallback(), false
	}
	occupied := mapset.New[geom.Vec3i]()
	for _, b := range base {
		occupied.Put(b)
	}
	return retry.Attempt(maxTries, func(int) (geom.Polycube, bool) {
		cand, ok := g.moveOne(base, occupied)
		if !ok {
			return nil, false
		}
		return geom.ShiftToOrigin(cand), true
	}, fallback)
}

// moveOne performs one random single-cube move and reports whether it is an
// acceptable near-miss. The candidate keeps base's coordinates.
func (g *Generator) moveOne(base geom.Polycube, occupied mapset.Set[geom.Vec3i]) (geom.Polycube, bool) {
	idx := g.rng.IntN(len(base))
	dest := geom.Add(base[idx], geom.Dirs[g.rng.IntN(len(geom.Dirs))])
	if occupied.Has(dest) {
		return nil, false
	}
	cand := base.Clone()
	cand[idx] = dest
	if !geom.Connected(cand) {
		return nil, false
	}
	if rotation.EqualUnderAnyRotation(base, cand) {
		return nil, false
	}
	return cand, true
}
