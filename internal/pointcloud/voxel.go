package pointcloud

import (
	"errors"
	"math"

	"github.com/banshee-data/motion.planner/internal/ragged"
	"gonum.org/v1/gonum/mat"
)

// EstimatedPointsPerCell is used for initial voxel map capacity.
const EstimatedPointsPerCell = 4

// ErrBadCellSize is returned for non-positive voxel sizes.
var ErrBadCellSize = errors.New("pointcloud: cell size must be positive")

// Cell is the integer coordinate of a voxel.
type Cell [3]int64

// VoxelIndex assigns points to cubic cells of side CellSize.
type VoxelIndex struct {
	CellSize float64
	Grid     map[Cell][]int // cell → point indices, ascending
}

// NewVoxelIndex creates an empty index.
func NewVoxelIndex(cellSize float64) *VoxelIndex {
	return &VoxelIndex{CellSize: cellSize, Grid: make(map[Cell][]int)}
}

// Build indexes rows [start, end) of coords (at least three columns, xyz).
// Indices stored in Grid are absolute row numbers.
func (vi *VoxelIndex) Build(coords mat.Matrix, start, end int) {
	vi.Grid = make(map[Cell][]int, (end-start)/EstimatedPointsPerCell+1)
	for i := start; i < end; i++ {
		c := vi.CellOf(coords.At(i, 0), coords.At(i, 1), coords.At(i, 2))
		vi.Grid[c] = append(vi.Grid[c], i)
	}
}

// CellOf returns the cell holding (x, y, z).
func (vi *VoxelIndex) CellOf(x, y, z float64) Cell {
	return Cell{
		int64(math.Floor(x / vi.CellSize)),
		int64(math.Floor(y / vi.CellSize)),
		int64(math.Floor(z / vi.CellSize)),
	}
}

// Leader returns the members of row i's cell and whether i is the first
// of them. The index must have been built over a range containing i.
func (vi *VoxelIndex) Leader(coords mat.Matrix, i int) ([]int, bool) {
	members := vi.Grid[vi.CellOf(coords.At(i, 0), coords.At(i, 1), coords.At(i, 2))]
	return members, len(members) > 0 && members[0] == i
}

// Assign groups the points of every sample into voxels. Voxels never span
// samples. It returns the voxel id of every row, numbered consecutively in
// order of first appearance, and the voxel count.
func Assign(coords mat.Matrix, o ragged.Offsets, cellSize float64) ([]int, int, error) {
	if !(cellSize > 0) {
		return nil, 0, ErrBadCellSize
	}
	r, _ := coords.Dims()
	if err := o.Check(r); err != nil {
		return nil, 0, err
	}
	assign := make([]int, r)
	next := 0
	vi := NewVoxelIndex(cellSize)
	for g := 0; g < o.Len(); g++ {
		s, e := o.Span(g)
		vi.Build(coords, s, e)
		for i := s; i < e; i++ {
			members, first := vi.Leader(coords, i)
			if !first {
				continue
			}
			for _, m := range members {
				assign[m] = next
			}
			next++
		}
	}
	return assign, next, nil
}

// VoxelGrid downsamples points, keeping per occupied voxel the point
// closest to the voxel's centroid. A non-positive leaf size returns the
// input unchanged. Output order follows the first point of every voxel.
func VoxelGrid(points []Point, leafSize float64) []Point {
	if len(points) == 0 {
		return nil
	}
	if leafSize <= 0 {
		return points
	}
	coords := Features(points)
	vi := NewVoxelIndex(leafSize)
	vi.Build(coords, 0, len(points))

	out := make([]Point, 0, len(vi.Grid))
	for i := range points {
		members, first := vi.Leader(coords, i)
		if !first {
			continue
		}
		var cx, cy, cz float64
		for _, j := range members {
			cx += points[j].X
			cy += points[j].Y
			cz += points[j].Z
		}
		n := float64(len(members))
		cx, cy, cz = cx/n, cy/n, cz/n

		best, bestD := members[0], math.Inf(1)
		for _, j := range members {
			dx, dy, dz := points[j].X-cx, points[j].Y-cy, points[j].Z-cz
			if d := dx*dx + dy*dy + dz*dz; d < bestD {
				best, bestD = j, d
			}
		}
		out = append(out, points[best])
	}
	return out
}
