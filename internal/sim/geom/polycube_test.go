package geom

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	got := Add(Vec3i{X: 1, Y: -2, Z: 3}, Vec3i{X: -1, Y: 5, Z: 0})
	require.Equal(t, Vec3i{X: 0, Y: 3, Z: 3}, got)
}

func TestDirs_AreUnitAndDistinct(t *testing.T) {
	require.True(t, Distinct(Dirs[:]))
	for _, d := range Dirs {
		require.Equal(t, 1, Manhattan(Vec3i{}, d), "dir %v", d)
	}
}

func TestCentroid_EmptyIsError(t *testing.T) {
	_, err := Centroid(nil)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestCentroid_Mean(t *testing.T) {
	c, err := Centroid([]Vec3i{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {2, 1, 0}})
	require.NoError(t, err)
	require.InDelta(t, 1.25, c.X, 1e-12)
	require.InDelta(t, 0.25, c.Y, 1e-12)
	require.InDelta(t, 0.0, c.Z, 1e-12)
}

func TestShiftToOrigin(t *testing.T) {
	in := []Vec3i{{-3, 4, 10}, {-2, 4, 10}, {-2, 5, 10}}
	want := Polycube{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}
	if diff := cmp.Diff(want, ShiftToOrigin(in)); diff != "" {
		t.Fatalf("ShiftToOrigin mismatch (-want +got):\n%s", diff)
	}
	require.Nil(t, ShiftToOrigin(nil))
}

func TestNormalize_CentersOnCentroidAndKeepsLength(t *testing.T) {
	in := []Vec3i{{5, 5, 5}, {6, 5, 5}, {6, 6, 5}, {6, 6, 6}}
	out := Normalize(in)
	require.Len(t, out, len(in))

	var sx, sy, sz float64
	for _, v := range out {
		sx += v.X
		sy += v.Y
		sz += v.Z
	}
	require.InDelta(t, 0, sx, 1e-9)
	require.InDelta(t, 0, sy, 1e-9)
	require.InDelta(t, 0, sz, 1e-9)

	// Relative offsets survive normalization.
	dx := out[1].X - out[0].X
	require.InDelta(t, 1, dx, 1e-12)

	// Translating the input does not change the normalized form.
	moved := make([]Vec3i, len(in))
	for i, v := range in {
		moved[i] = Add(v, Vec3i{X: -40, Y: 7, Z: 2})
	}
	for i, v := range Normalize(moved) {
		require.InDelta(t, out[i].X, v.X, 1e-12)
		require.InDelta(t, out[i].Y, v.Y, 1e-12)
		require.InDelta(t, out[i].Z, v.Z, 1e-12)
	}
	require.Nil(t, Normalize(nil))
}

func TestNormalize_FractionalCentroid(t *testing.T) {
	out := Normalize([]Vec3i{{0, 0, 0}, {1, 0, 0}})
	require.Equal(t, -0.5, out[0].X)
	require.Equal(t, 0.5, out[1].X)
	require.Equal(t, 0.0, out[0].Y)
}

func TestConnected(t *testing.T) {
	cases := []struct {
		name   string
		blocks []Vec3i
		want   bool
	}{
		{name: "empty", blocks: nil, want: false},
		{name: "single", blocks: []Vec3i{{0, 0, 0}}, want: true},
		{name: "line", blocks: []Vec3i{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}, want: true},
		{name: "edge only", blocks: []Vec3i{{0, 0, 0}, {1, 1, 0}}, want: false},
		{name: "corner only", blocks: []Vec3i{{0, 0, 0}, {1, 1, 1}}, want: false},
		{name: "gap", blocks: []Vec3i{{0, 0, 0}, {2, 0, 0}}, want: false},
		{name: "L in 3d", blocks: []Vec3i{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {1, 1, 1}}, want: true},
	}
	for _, c := range cases {
		if got := Connected(c.blocks); got != c.want {
			t.Fatalf("%s: Connected=%v want %v", c.name, got, c.want)
		}
	}
}

func TestSameSet_OrderInsensitive(t *testing.T) {
	a := []Vec3i{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}
	b := []Vec3i{{1, 1, 0}, {0, 0, 0}, {1, 0, 0}}
	require.True(t, SameSet(a, b))
	require.False(t, SameSet(a, b[:2]))
	require.False(t, SameSet(a, []Vec3i{{0, 0, 0}, {1, 0, 0}, {1, 0, 0}}))
}

func TestSameSet_DuplicatesAreSymmetric(t *testing.T) {
	a := []Vec3i{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}
	dup := []Vec3i{{0, 0, 0}, {1, 0, 0}, {1, 0, 0}}
	require.False(t, SameSet(a, dup))
	require.False(t, SameSet(dup, a))
	require.False(t, SameSet(dup, dup))
	require.True(t, SameSet(a, a))
}

func TestValid(t *testing.T) {
	require.True(t, Valid([]Vec3i{{0, 0, 0}, {0, 1, 0}}))
	require.False(t, Valid(nil))
	require.False(t, Valid([]Vec3i{{0, 0, 0}, {0, 0, 0}}))
	require.False(t, Valid([]Vec3i{{0, 0, 0}, {0, 2, 0}}))
}

func TestBounds(t *testing.T) {
	lo, hi, err := Bounds([]Vec3i{{1, -2, 3}, {-4, 5, 0}})
	require.NoError(t, err)
	require.Equal(t, Vec3i{X: -4, Y: -2, Z: 0}, lo)
	require.Equal(t, Vec3i{X: 1, Y: 5, Z: 3}, hi)
	_, _, err = Bounds(nil)
	require.ErrorIs(t, err, ErrEmpty)
}
