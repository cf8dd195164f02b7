package cluster

import (
	"context"
)

// ctxCheckInterval is how many markers are inserted between context checks.
const ctxCheckInterval = 256

// levels holds the per-zoom grids of one build. Index i is zoom MinZoom+i.
type levels struct {
	minZoom     int
	clusters    []*Grid[NodeID]
	unclustered []*Grid[NodeID]
}

func newLevels(minZoom, maxZoom int, radius float64) levels {
	lv := levels{minZoom: minZoom}
	for z := minZoom; z <= maxZoom; z++ {
		lv.clusters = append(lv.clusters, NewGrid[NodeID](radius))
		lv.unclustered = append(lv.unclustered, NewGrid[NodeID](radius))
	}
	return lv
}

func (lv *levels) cluster(zoom int) *Grid[NodeID] {
	return lv.clusters[zoom-lv.minZoom]
}

func (lv *levels) lone(zoom int) *Grid[NodeID] {
	return lv.unclustered[zoom-lv.minZoom]
}

// Result is a completed computation: the tree plus the grids it was built
// with. It is not modified after Build returns.
type Result struct {
	MinZoom          int
	MaxZoom          int
	Zoom             float64
	MaxClusterRadius int
	Tree             *Tree

	levels levels
}

// ClusterGrid returns the grid of clusters formed at zoom, nil outside
// [MinZoom, MaxZoom].
func (r *Result) ClusterGrid(zoom int) *Grid[NodeID] {
	if zoom < r.MinZoom || zoom > r.MaxZoom {
		return nil
	}
	return r.levels.cluster(zoom)
}

// UnclusteredGrid returns the grid of markers left alone at zoom, nil
// outside [MinZoom, MaxZoom].
func (r *Result) UnclusteredGrid(zoom int) *Grid[NodeID] {
	if zoom < r.MinZoom || zoom > r.MaxZoom {
		return nil
	}
	return r.levels.lone(zoom)
}

type builder struct {
	tree    *Tree
	lv      levels
	project Projector
}

// Build runs the greedy clustering over req.Markers in input order. The
// request is assumed to be valid (see Request.Validate). A nil projector means
// MercatorProjector(DefaultTileSize). ctx is only consulted between markers.
func Build(ctx context.Context, req *Request, project Projector) (*Result, error) {
	if project == nil {
		project = MercatorProjector(DefaultTileSize)
	}
	b := &builder{
		tree:    newTree(req.MinZoom, req.MaxZoom, req.Markers),
		lv:      newLevels(req.MinZoom, req.MaxZoom, float64(req.MaxClusterRadius)),
		project: project,
	}

	for i := range req.Markers {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b.insert(b.tree.MarkerNode(i))
	}
	b.tree.refresh()

	return &Result{
		MinZoom:          req.MinZoom,
		MaxZoom:          req.MaxZoom,
		Zoom:             req.Zoom,
		MaxClusterRadius: req.MaxClusterRadius,
		Tree:             b.tree,
		levels:           b.lv,
	}, nil
}

func (b *builder) insert(marker NodeID) {
	t := b.tree
	pos := t.Nodes[marker].Center

	for z := t.MaxZoom; z >= t.MinZoom; z-- {
		p := b.project(pos, z)

		if c, ok := b.lv.cluster(z).Nearest(p); ok {
			t.attach(c, marker)
			return
		}

		if leaf, ok := b.lv.lone(z).Nearest(p); ok {
			b.merge(leaf, marker, z)
			return
		}

		// nothing close at this zoom, stay alone and try a coarser one
		b.lv.lone(z).Insert(marker, p)
	}

	t.attach(t.Root, marker)
}

// merge forms a new cluster at zoom from leaf and marker, then fills the gap
// between it and leaf's former parent with single-child clusters so every
// zoom in between has a node.
func (b *builder) merge(leaf, marker NodeID, zoom int) {
	t := b.tree
	parent := t.detach(leaf)
	if parent == NoNode {
		parent = t.Root
	}
	anchor := t.Nodes[leaf].Center

	c := t.newCluster(zoom)
	t.attach(c, leaf)
	t.attach(c, marker)
	b.lv.cluster(zoom).Insert(c, b.project(anchor, zoom))

	top := c
	for z := zoom - 1; z > t.Nodes[parent].Zoom; z-- {
		next := t.newCluster(z)
		t.attach(next, top)
		b.lv.cluster(z).Insert(next, b.project(anchor, z))
		top = next
	}
	t.attach(parent, top)

	// leaf was registered alone from the finest zoom down to just above its
	// old parent; drop it from zoom and below
	for z := zoom; z >= t.MinZoom; z-- {
		if !b.lv.lone(z).Remove(leaf) {
			break
		}
	}
}
