package cluster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// cellKey addresses one bucket of a Grid.
type cellKey struct {
	X, Y int
}

type gridEntry[T comparable] struct {
	obj T
	pos orb.Point
}

// Grid is a bucketed proximity index with a fixed cell size. Objects are kept
// in slices per cell, so scans are deterministic: rows cy-1..cy+1, columns
// cx-1..cx+1, then insertion order inside a cell.
type Grid[T comparable] struct {
	cellSize float64
	sqSize   float64
	cells    map[cellKey][]gridEntry[T]
	index    map[T]cellKey
}

func NewGrid[T comparable](cellSize float64) *Grid[T] {
	return &Grid[T]{
		cellSize: cellSize,
		sqSize:   cellSize * cellSize,
		cells:    make(map[cellKey][]gridEntry[T]),
		index:    make(map[T]cellKey),
	}
}

// CellSize returns the bucket width, which is also the query radius.
func (g *Grid[T]) CellSize() float64 {
	return g.cellSize
}

// Len returns the number of objects in the grid.
func (g *Grid[T]) Len() int {
	return len(g.index)
}

func (g *Grid[T]) key(p orb.Point) cellKey {
	return cellKey{
		X: int(math.Floor(p[0] / g.cellSize)),
		Y: int(math.Floor(p[1] / g.cellSize)),
	}
}

// Insert places obj into the bucket of p. An object that is already present is
// moved to the new position.
func (g *Grid[T]) Insert(obj T, p orb.Point) {
	if _, ok := g.index[obj]; ok {
		g.Remove(obj)
	}
	k := g.key(p)
	g.cells[k] = append(g.cells[k], gridEntry[T]{obj: obj, pos: p})
	g.index[obj] = k
}

// Remove deletes obj and reports whether it was present.
func (g *Grid[T]) Remove(obj T) bool {
	k, ok := g.index[obj]
	if !ok {
		return false
	}
	cell := g.cells[k]
	for i := range cell {
		if cell[i].obj == obj {
			// keep the remaining entries in insertion order
			cell = append(cell[:i], cell[i+1:]...)
			break
		}
	}
	if len(cell) == 0 {
		delete(g.cells, k)
	} else {
		g.cells[k] = cell
	}
	delete(g.index, obj)
	return true
}

// Position returns the point obj was inserted with.
func (g *Grid[T]) Position(obj T) (orb.Point, bool) {
	k, ok := g.index[obj]
	if !ok {
		return orb.Point{}, false
	}
	for _, e := range g.cells[k] {
		if e.obj == obj {
			return e.pos, true
		}
	}
	return orb.Point{}, false
}

// Nearest returns the closest object within CellSize of p. When several
// objects share the minimal distance the first one met in scan order wins.
func (g *Grid[T]) Nearest(p orb.Point) (T, bool) {
	var (
		closest T
		found   bool
	)
	best := g.sqSize
	k := g.key(p)

	for y := k.Y - 1; y <= k.Y+1; y++ {
		for x := k.X - 1; x <= k.X+1; x++ {
			for _, e := range g.cells[cellKey{X: x, Y: y}] {
				dx := e.pos[0] - p[0]
				dy := e.pos[1] - p[1]
				d := dx*dx + dy*dy
				if d < best || (!found && d <= best) {
					best = d
					closest = e.obj
					found = true
				}
			}
		}
	}
	return closest, found
}

// Each visits every object, cells in ascending (Y, X) order and objects in
// insertion order within a cell. Inserting the visited objects into an empty
// grid in this order reproduces the grid.
func (g *Grid[T]) Each(fn func(obj T, p orb.Point)) {
	keys := make([]cellKey, 0, len(g.cells))
	for k := range g.cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})
	for _, k := range keys {
		for _, e := range g.cells[k] {
			fn(e.obj, e.pos)
		}
	}
}
