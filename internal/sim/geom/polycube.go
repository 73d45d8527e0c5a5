package geom

import (
	"cmp"
	"errors"
	"slices"

	"github.com/zyedidia/generic/mapset"
)

var ErrEmpty = errors.New("geom: empty block set")

// Polycube is a set of face-connected unit cubes. Order carries no meaning;
// duplicates are not allowed.
type Polycube []Vec3i

func (p Polycube) Clone() Polycube {
	if p == nil {
		return nil
	}
	out := make(Polycube, len(p))
	copy(out, p)
	return out
}

func (p Polycube) Contains(v Vec3i) bool {
	return slices.Contains(p, v)
}

// Sorted returns a copy ordered by (X,Y,Z). Useful for stable output.
func (p Polycube) Sorted() Polycube {
	out := p.Clone()
	slices.SortFunc(out, compareVec)
	return out
}

func compareVec(a, b Vec3i) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Z, b.Z)
}

// Bounds returns the per-axis minimum and maximum corner.
func Bounds(blocks []Vec3i) (lo, hi Vec3i, err error) {
	if len(blocks) == 0 {
		return lo, hi, ErrEmpty
	}
	lo, hi = blocks[0], blocks[0]
	for _, b := range blocks[1:] {
		lo.X, hi.X = min(lo.X, b.X), max(hi.X, b.X)
		lo.Y, hi.Y = min(lo.Y, b.Y), max(hi.Y, b.Y)
		lo.Z, hi.Z = min(lo.Z, b.Z), max(hi.Z, b.Z)
	}
	return lo, hi, nil
}

// ShiftToOrigin translates the set so the minimum coordinate on each axis is
// zero. Two sets are translates of each other iff their shifted forms match.
func ShiftToOrigin(blocks []Vec3i) Polycube {
	lo, _, err := Bounds(blocks)
	if err != nil {
		return nil
	}
	out := make(Polycube, len(blocks))
	for i, b := range blocks {
		out[i] = Sub(b, lo)
	}
	return out
}

func Centroid(blocks []Vec3i) (Vec3f, error) {
	if len(blocks) == 0 {
		return Vec3f{}, ErrEmpty
	}
	var sx, sy, sz int
	for _, b := range blocks {
		sx += b.X
		sy += b.Y
		sz += b.Z
	}
	n := float64(len(blocks))
	return Vec3f{X: float64(sx) / n, Y: float64(sy) / n, Z: float64(sz) / n}, nil
}

// Normalize shifts the set to the origin and then centers it on its
// centroid. The centroid becomes the rotation/display pivot; connectivity and
// shape identity are unchanged. Input is assumed already deduplicated.
func Normalize(blocks []Vec3i) []Vec3f {
	shifted := ShiftToOrigin(blocks)
	c, err := Centroid(shifted)
	if err != nil {
		return nil
	}
	out := make([]Vec3f, len(shifted))
	for i, b := range shifted {
		out[i] = Vec3f{X: float64(b.X) - c.X, Y: float64(b.Y) - c.Y, Z: float64(b.Z) - c.Z}
	}
	return out
}

func Distinct(blocks []Vec3i) bool {
	seen := mapset.New[Vec3i]()
	for _, b := range blocks {
		if seen.Has(b) {
			return false
		}
		seen.Put(b)
	}
	return true
}

// SameSet reports whether a and b hold exactly the same coordinates.
func SameSet(a, b []Vec3i) bool {
	if len(a) != len(b) {
		return false
	}
	setA, setB := mapset.New[Vec3i](), mapset.New[Vec3i]()
	for i := range a {
		setA.Put(a[i])
		setB.Put(b[i])
	}
	// Duplicates on either side make a set smaller than its slice.
	if setA.Size() != len(a) || setB.Size() != len(b) {
		return false
	}
	for _, v := range b {
		if !setA.Has(v) {
			return false
		}
	}
	return true
}

// Connected reports whether every cube is reachable from every other through
// face-adjacent steps inside the set. The empty set is not connected.
func Connected(blocks []Vec3i) bool {
	if len(blocks) == 0 {
		return false
	}
	occupied := mapset.New[Vec3i]()
	for _, b := range blocks {
		occupied.Put(b)
	}
	visited := mapset.New[Vec3i]()
	queue := []Vec3i{blocks[0]}
	visited.Put(blocks[0])
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range Dirs {
			n := Add(cur, d)
			if occupied.Has(n) && !visited.Has(n) {
				visited.Put(n)
				queue = append(queue, n)
			}
		}
	}
	return visited.Size() == occupied.Size()
}

// Valid checks the polycube invariants: non-empty, distinct and connected.
func Valid(blocks []Vec3i) bool {
	return len(blocks) > 0 && Distinct(blocks) && Connected(blocks)
}
