package encoding

import (
	"fmt"

	"voxelmind.ai/internal/sim/geom"
)

// MaxGridCells bounds decoded grids.
const MaxGridCells = 1 << 16

// Grid is a polycube as a dense occupancy grid. Cells are ordered x fastest,
// then y, then z; occupied cells are 1.
type Grid struct {
	Size [3]int `json:"size"`
	RLE  string `json:"rle"`
}

// EncodeGrid shifts blocks to the origin and encodes their occupancy.
func EncodeGrid(blocks []geom.Vec3i) Grid {
	p := geom.ShiftToOrigin(blocks)
	if len(p) == 0 {
		return Grid{}
	}
	_, hi, _ := geom.Bounds(p)
	size := [3]int{hi.X + 1, hi.Y + 1, hi.Z + 1}
	cells := make([]uint8, size[0]*size[1]*size[2])
	for _, b := range p {
		cells[index(size, b)] = 1
	}
	return Grid{Size: size, RLE: EncodeRuns(cells)}
}

// DecodeGrid returns the occupied cells in grid order.
func DecodeGrid(g Grid) (geom.Polycube, error) {
	sx, sy, sz := g.Size[0], g.Size[1], g.Size[2]
	if sx == 0 && sy == 0 && sz == 0 && g.RLE == "" {
		return nil, nil
	}
	if sx < 1 || sy < 1 || sz < 1 {
		return nil, fmt.Errorf("bad grid size %v", g.Size)
	}
	if sx > MaxGridCells || sy > MaxGridCells || sz > MaxGridCells || sx*sy*sz > MaxGridCells {
		return nil, fmt.Errorf("grid %v too large", g.Size)
	}
	total := sx * sy * sz
	cells, err := DecodeRuns(g.RLE, total)
	if err != nil {
		return nil, err
	}
	if len(cells) != total {
		return nil, fmt.Errorf("grid has %d cells, want %d", len(cells), total)
	}
	var out geom.Polycube
	for i, c := range cells {
		switch c {
		case 0:
		case 1:
			out = append(out, geom.Vec3i{X: i % sx, Y: (i / sx) % sy, Z: i / (sx * sy)})
		default:
			return nil, fmt.Errorf("bad cell value %d at %d", c, i)
		}
	}
	return out, nil
}

func index(size [3]int, v geom.Vec3i) int {
	return v.X + v.Y*size[0] + v.Z*size[0]*size[1]
}
