package rotation

import (
	"github.com/zyedidia/generic/mapset"

	"voxelmind.ai/internal/sim/geom"
)

// Matrix is an integer rotation matrix; column i is the image of basis axis i.
type Matrix [3][3]int

func (m Matrix) Apply(v geom.Vec3i) geom.Vec3i {
	return geom.Vec3i{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Matrix) IsIdentity() bool { return m == Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} }

// MatrixOf returns the matrix equivalent of applying s.
func MatrixOf(s Steps) Matrix {
	s = NormalizeSteps(s)
	var m Matrix
	for axis, e := range [3]geom.Vec3i{{X: 1}, {Y: 1}, {Z: 1}} {
		img := applyVec(e, s[0], s[1], s[2])
		m[0][axis], m[1][axis], m[2][axis] = img.X, img.Y, img.Z
	}
	return m
}

// Orientation is one element of the proper rotation group of the cube,
// together with the first step triple (in rx,ry,rz loop order) reaching it.
type Orientation struct {
	Steps  Steps
	Matrix Matrix
}

var orientations = enumerateOrientations()

func enumerateOrientations() []Orientation {
	seen := map[Matrix]bool{}
	out := make([]Orientation, 0, 24)
	for rx := 0; rx < 4; rx++ {
		for ry := 0; ry < 4; ry++ {
			for rz := 0; rz < 4; rz++ {
				s := Steps{rx, ry, rz}
				m := MatrixOf(s)
				if seen[m] {
					continue
				}
				seen[m] = true
				out = append(out, Orientation{Steps: s, Matrix: m})
			}
		}
	}
	return out
}

// Orientations returns the distinct rotations reachable by the 64 step
// triples. The x-then-y-then-z composition covers the whole group, so this
// always has 24 entries with the identity first.
func Orientations() []Orientation {
	out := make([]Orientation, len(orientations))
	copy(out, orientations)
	return out
}

func toSet(blocks []geom.Vec3i) mapset.Set[geom.Vec3i] {
	s := mapset.New[geom.Vec3i]()
	for _, b := range blocks {
		s.Put(b)
	}
	return s
}

// EqualUnderAnyRotation reports whether some (rx,ry,rz) in {0..3}^3 maps a
// onto b. Both sets are compared after translating their minimum corner to
// the origin, so the result does not depend on where either shape sits.
//
// Candidates whose set size differs from b are skipped; with equal voxel
// counts that never happens. Cost is O(64*n).
func EqualUnderAnyRotation(a, b []geom.Vec3i) bool {
	kb := toSet(geom.ShiftToOrigin(b))
	for rx := 0; rx < 4; rx++ {
		for ry := 0; ry < 4; ry++ {
			for rz := 0; rz < 4; rz++ {
				ka := toSet(geom.ShiftToOrigin(Apply(a, rx, ry, rz)))
				if ka.Size() != kb.Size() {
					continue
				}
				ok := true
				ka.Each(func(v geom.Vec3i) {
					if ok && !kb.Has(v) {
						ok = false
					}
				})
				if ok {
					return true
				}
			}
		}
	}
	return false
}

func transform(blocks []geom.Vec3i, m Matrix) geom.Polycube {
	out := make(geom.Polycube, len(blocks))
	for i, b := range blocks {
		out[i] = m.Apply(b)
	}
	return out
}

// SelfSymmetric reports whether a non-identity rotation maps the shape onto
// itself (up to translation).
func SelfSymmetric(blocks []geom.Vec3i) bool {
	base := geom.ShiftToOrigin(blocks)
	for _, o := range orientations {
		if o.Matrix.IsIdentity() {
			continue
		}
		if geom.SameSet(base, geom.ShiftToOrigin(transform(blocks, o.Matrix))) {
			return true
		}
	}
	return false
}
