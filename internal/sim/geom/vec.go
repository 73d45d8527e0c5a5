package geom

import "fmt"

// Vec3i is one unit cube position on the integer lattice.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func (v Vec3i) String() string { return fmt.Sprintf("%d|%d|%d", v.X, v.Y, v.Z) }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// Vec3f is a centered (possibly fractional) coordinate handed to renderers.
type Vec3f struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3f) ToArray() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// Dirs are the six face directions, in the fixed order +X,-X,+Y,-Y,+Z,-Z.
var Dirs = [6]Vec3i{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

func Add(a, b Vec3i) Vec3i {
	return Vec3i{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func Sub(a, b Vec3i) Vec3i {
	return Vec3i{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func Manhattan(a, b Vec3i) int {
	return absInt(a.X-b.X) + absInt(a.Y-b.Y) + absInt(a.Z-b.Z)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
