package rotation

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"voxelmind.ai/internal/sim/geom"
)

// chiral has no rotational self-symmetry and is distinct from its mirror.
var chiral = geom.Polycube{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 2, Y: 1, Z: 0}, {X: 2, Y: 1, Z: 1}}

func mirrorX(p []geom.Vec3i) geom.Polycube {
	out := make(geom.Polycube, len(p))
	for i, v := range p {
		out[i] = geom.Vec3i{X: -v.X, Y: v.Y, Z: v.Z}
	}
	return out
}

func TestNormalizeTurns(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{in: 0, want: 0},
		{in: 1, want: 1},
		{in: 3, want: 3},
		{in: 4, want: 0},
		{in: 7, want: 3},
		{in: -1, want: 3},
		{in: -4, want: 0},
		{in: -5, want: 3},
	}
	for _, c := range cases {
		if got := NormalizeTurns(c.in); got != c.want {
			t.Fatalf("NormalizeTurns(%d)=%d want %d", c.in, got, c.want)
		}
	}
}

func TestElementaryTurns(t *testing.T) {
	v := geom.Vec3i{X: 1, Y: 2, Z: 3}
	require.Equal(t, geom.Vec3i{X: 1, Y: -3, Z: 2}, RotX90(v))
	require.Equal(t, geom.Vec3i{X: 3, Y: 2, Z: -1}, RotY90(v))
	require.Equal(t, geom.Vec3i{X: -2, Y: 1, Z: 3}, RotZ90(v))

	for name, f := range map[string]func(geom.Vec3i) geom.Vec3i{"x": RotX90, "y": RotY90, "z": RotZ90} {
		w := v
		for i := 0; i < 4; i++ {
			w = f(w)
		}
		require.Equal(t, v, w, "rot%s applied four times", name)
		require.NotEqual(t, v, f(v), "rot%s is not the identity", name)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := chiral.Clone()
	_ = Apply(in, 1, 2, 3)
	if diff := cmp.Diff(chiral, in); diff != "" {
		t.Fatalf("input mutated (-want +got):\n%s", diff)
	}
}

func TestApply_ReducesCountsModulo4(t *testing.T) {
	require.Equal(t, Apply(chiral, 1, 2, 3), Apply(chiral, 5, -2, 7))
	require.Equal(t, Apply(chiral, 1, 2, 3), RotateBySteps(chiral, Steps{9, 6, -1}))
}

func TestApply_OrderIsXThenYThenZ(t *testing.T) {
	v := geom.Vec3i{X: 1, Y: 2, Z: 3}
	want := RotZ90(RotY90(RotX90(v)))
	require.Equal(t, geom.Polycube{want}, Apply([]geom.Vec3i{v}, 1, 1, 1))
}

func TestOrientations_CoverWholeGroup(t *testing.T) {
	os := Orientations()
	require.Len(t, os, 24)
	require.True(t, os[0].Matrix.IsIdentity())

	// Every triple lands on one of the 24 matrices.
	known := map[Matrix]bool{}
	for _, o := range os {
		known[o.Matrix] = true
		require.Equal(t, o.Matrix, MatrixOf(o.Steps))
	}
	for rx := 0; rx < 4; rx++ {
		for ry := 0; ry < 4; ry++ {
			for rz := 0; rz < 4; rz++ {
				require.True(t, known[MatrixOf(Steps{rx, ry, rz})])
			}
		}
	}
}

func TestOrientations_ChiralShapeHas24DistinctImages(t *testing.T) {
	seen := map[string]bool{}
	for rx := 0; rx < 4; rx++ {
		for ry := 0; ry < 4; ry++ {
			for rz := 0; rz < 4; rz++ {
				p := geom.ShiftToOrigin(Apply(chiral, rx, ry, rz)).Sorted()
				seen[encode(p)] = true
			}
		}
	}
	require.Len(t, seen, 24)
}

func TestMatrixOf_HalfTurnsOnAllAxesIsIdentity(t *testing.T) {
	require.True(t, MatrixOf(Steps{2, 2, 2}).IsIdentity())
	require.True(t, Steps{4, -4, 8}.IsZero())
	require.False(t, Steps{2, 2, 2}.IsZero())
}

func TestEqualUnderAnyRotation_AllRotations(t *testing.T) {
	for _, o := range Orientations() {
		rotated := RotateBySteps(chiral, o.Steps)
		require.True(t, EqualUnderAnyRotation(chiral, rotated), "steps=%v", o.Steps)
		require.True(t, EqualUnderAnyRotation(rotated, chiral), "steps=%v", o.Steps)
	}
}

func TestEqualUnderAnyRotation_TranslationInvariant(t *testing.T) {
	moved := make([]geom.Vec3i, len(chiral))
	for i, v := range chiral {
		moved[i] = geom.Add(v, geom.Vec3i{X: 10, Y: -3, Z: 4})
	}
	require.True(t, EqualUnderAnyRotation(chiral, Apply(moved, 0, 3, 1)))
}

func TestEqualUnderAnyRotation_MirrorIsDistinct(t *testing.T) {
	require.False(t, EqualUnderAnyRotation(chiral, mirrorX(chiral)))
	require.False(t, EqualUnderAnyRotation(mirrorX(chiral), chiral))
}

func TestEqualUnderAnyRotation_SizeMismatch(t *testing.T) {
	require.False(t, EqualUnderAnyRotation(chiral, chiral[:4]))
	require.False(t, EqualUnderAnyRotation(chiral[:4], chiral))
}

func TestSelfSymmetric(t *testing.T) {
	cube := geom.Polycube{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}, {X: 1, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1}, {X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1},
	}
	require.True(t, SelfSymmetric(cube))
	require.True(t, SelfSymmetric(geom.Polycube{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}))
	require.False(t, SelfSymmetric(chiral))
}

// encode renders a sorted polycube as the key used by canonical.
func encode(p geom.Polycube) string {
	var sb strings.Builder
	for j, v := range p {
		if j > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(strconv.Itoa(v.X) + "," + strconv.Itoa(v.Y) + "," + strconv.Itoa(v.Z))
	}
	return sb.String()
}

// canonical is the smallest sorted encoding over all 24 orientations, an
// independent key for rotation classes.
func canonical(blocks []geom.Vec3i) string {
	best := ""
	for i, o := range Orientations() {
		p := geom.ShiftToOrigin(transform(blocks, o.Matrix)).Sorted()
		var sb strings.Builder
		for j, v := range p {
			if j > 0 {
				sb.WriteByte(';')
			}
			sb.WriteString(strconv.Itoa(v.X) + "," + strconv.Itoa(v.Y) + "," + strconv.Itoa(v.Z))
		}
		if k := sb.String(); i == 0 || k < best {
			best = k
		}
	}
	return best
}

func TestCanonicalKey_AgreesWithEquivalence(t *testing.T) {
	rotated := RotateBySteps(chiral, Steps{1, 3, 2})
	require.Equal(t, canonical(chiral), canonical(rotated))
	require.NotEqual(t, canonical(chiral), canonical(mirrorX(chiral)))
	require.Equal(t, EqualUnderAnyRotation(chiral, rotated), canonical(chiral) == canonical(rotated))
}
