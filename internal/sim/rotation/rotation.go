package rotation

import "voxelmind.ai/internal/sim/geom"

// Steps holds quarter-turn counts around X, Y and Z. They are applied in that
// order: all X turns first, then Y, then Z.
type Steps [3]int

// NormalizeTurns reduces a quarter-turn count into [0,3]. Negative counts
// wrap (-1 is three turns).
func NormalizeTurns(r int) int {
	r %= 4
	if r < 0 {
		r += 4
	}
	return r
}

func NormalizeSteps(s Steps) Steps {
	return Steps{NormalizeTurns(s[0]), NormalizeTurns(s[1]), NormalizeTurns(s[2])}
}

func (s Steps) IsZero() bool {
	n := NormalizeSteps(s)
	return n[0] == 0 && n[1] == 0 && n[2] == 0
}

// RotX90 turns v by 90 degrees around the X axis.
func RotX90(v geom.Vec3i) geom.Vec3i { return geom.Vec3i{X: v.X, Y: -v.Z, Z: v.Y} }

// RotY90 turns v by 90 degrees around the Y axis.
func RotY90(v geom.Vec3i) geom.Vec3i { return geom.Vec3i{X: v.Z, Y: v.Y, Z: -v.X} }

// RotZ90 turns v by 90 degrees around the Z axis.
func RotZ90(v geom.Vec3i) geom.Vec3i { return geom.Vec3i{X: -v.Y, Y: v.X, Z: v.Z} }

func applyVec(v geom.Vec3i, rx, ry, rz int) geom.Vec3i {
	for i := 0; i < rx; i++ {
		v = RotX90(v)
	}
	for i := 0; i < ry; i++ {
		v = RotY90(v)
	}
	for i := 0; i < rz; i++ {
		v = RotZ90(v)
	}
	return v
}

// Apply rotates every voxel about the origin: rx X-turns, then ry Y-turns,
// then rz Z-turns, each count taken modulo 4. The input is not modified.
func Apply(blocks []geom.Vec3i, rx, ry, rz int) geom.Polycube {
	rx, ry, rz = NormalizeTurns(rx), NormalizeTurns(ry), NormalizeTurns(rz)
	out := make(geom.Polycube, len(blocks))
	for i, b := range blocks {
		out[i] = applyVec(b, rx, ry, rz)
	}
	return out
}

func RotateBySteps(blocks []geom.Vec3i, s Steps) geom.Polycube {
	s = NormalizeSteps(s)
	return Apply(blocks, s[0], s[1], s[2])
}
