package cluster

import (
	"github.com/paulmach/orb"
)

// NodeID is a handle into Tree.Nodes.
type NodeID int32

// NoNode marks a missing parent (the root) or a missing marker link.
const NoNode NodeID = -1

type NodeKind uint8

const (
	KindCluster NodeKind = iota
	KindMarker
)

func (k NodeKind) String() string {
	if k == KindMarker {
		return "marker"
	}
	return "cluster"
}

// Point is a geographic coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Orb returns the point in orb's (lon, lat) order.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

func pointFromOrb(p orb.Point) Point {
	return Point{Latitude: p.Lat(), Longitude: p.Lon()}
}

type Anchor struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// Marker is one input point. Width, Height and Anchor are display metadata
// that is carried through untouched.
type Marker struct {
	Point  Point   `json:"point"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Anchor Anchor  `json:"anchor"`
}

// Node is either a marker leaf or a cluster. Parent is a back reference only;
// a node is owned by the Children list of its parent.
type Node struct {
	ID       NodeID
	Kind     NodeKind
	Zoom     int
	Parent   NodeID
	Children []NodeID
	Marker   int // index into Tree.Markers, -1 for clusters

	// Center is the position a cluster was registered under in its grid
	// (the position of its first child). For markers it is the marker point.
	Center   Point
	Centroid Point
	Bounds   orb.Bound
	Count    int
}

func (n *Node) IsCluster() bool {
	return n.Kind == KindCluster
}

// Tree is an arena of nodes with a single root at MinZoom-1.
type Tree struct {
	MinZoom int
	MaxZoom int
	Root    NodeID
	Nodes   []Node
	Markers []Marker
}

func newTree(minZoom, maxZoom int, markers []Marker) *Tree {
	t := &Tree{
		MinZoom: minZoom,
		MaxZoom: maxZoom,
		Markers: markers,
		// every marker plus the root; clusters are appended as they form
		Nodes: make([]Node, 0, len(markers)*2+1),
	}
	t.Root = t.newCluster(minZoom - 1)
	for i := range markers {
		t.newMarker(i)
	}
	return t
}

// Node returns the node for id.
func (t *Tree) Node(id NodeID) *Node {
	return &t.Nodes[id]
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

func (t *Tree) newCluster(zoom int) NodeID {
	id := NodeID(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{
		ID:     id,
		Kind:   KindCluster,
		Zoom:   zoom,
		Parent: NoNode,
		Marker: -1,
	})
	return id
}

func (t *Tree) newMarker(idx int) NodeID {
	id := NodeID(len(t.Nodes))
	p := t.Markers[idx].Point
	t.Nodes = append(t.Nodes, Node{
		ID:       id,
		Kind:     KindMarker,
		Zoom:     t.MaxZoom + 1,
		Parent:   NoNode,
		Marker:   idx,
		Center:   p,
		Centroid: p,
		Bounds:   p.Orb().Bound(),
		Count:    1,
	})
	return id
}

// attach appends child to parent. A cluster takes the center of its first
// child and keeps it.
func (t *Tree) attach(parent, child NodeID) {
	p := &t.Nodes[parent]
	c := &t.Nodes[child]
	if len(p.Children) == 0 && parent != t.Root {
		p.Center = c.Center
	}
	p.Children = append(p.Children, child)
	c.Parent = parent
}

// detach removes child from its parent's children, keeping their order.
func (t *Tree) detach(child NodeID) NodeID {
	c := &t.Nodes[child]
	parent := c.Parent
	if parent == NoNode {
		return NoNode
	}
	p := &t.Nodes[parent]
	for i, id := range p.Children {
		if id == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			break
		}
	}
	c.Parent = NoNode
	return parent
}

// refresh recomputes Count, Bounds and the count-weighted Centroid of every
// cluster, children before parents.
func (t *Tree) refresh() {
	// iterative post-order so deep chains do not grow the goroutine stack
	type frame struct {
		id   NodeID
		next int
	}
	stack := []frame{{id: t.Root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := &t.Nodes[top.id]
		if top.next < len(n.Children) {
			child := n.Children[top.next]
			top.next++
			if t.Nodes[child].Kind == KindCluster {
				stack = append(stack, frame{id: child})
			}
			continue
		}
		t.summarize(top.id)
		stack = stack[:len(stack)-1]
	}
}

func (t *Tree) summarize(id NodeID) {
	n := &t.Nodes[id]
	n.Count = 0
	var (
		bound      orb.Bound
		sumLat     float64
		sumLon     float64
		haveBounds bool
	)
	for _, cid := range n.Children {
		c := &t.Nodes[cid]
		if c.Count == 0 {
			continue
		}
		if !haveBounds {
			bound = c.Bounds
			haveBounds = true
		} else {
			bound = bound.Union(c.Bounds)
		}
		w := float64(c.Count)
		sumLat += c.Centroid.Latitude * w
		sumLon += c.Centroid.Longitude * w
		n.Count += c.Count
	}
	n.Bounds = bound
	if n.Count > 0 {
		n.Centroid = Point{
			Latitude:  sumLat / float64(n.Count),
			Longitude: sumLon / float64(n.Count),
		}
	}
}

// MarkerNode returns the leaf node holding Markers[idx]. Marker leaves are
// created in input order right after the root.
func (t *Tree) MarkerNode(idx int) NodeID {
	if idx < 0 || idx >= len(t.Markers) {
		return NoNode
	}
	return t.Root + 1 + NodeID(idx)
}

// Ancestors lists the parents of id from the closest one up to the root.
func (t *Tree) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p := t.Nodes[id].Parent; p != NoNode; p = t.Nodes[p].Parent {
		out = append(out, p)
	}
	return out
}

// Leaves returns the marker indexes below id in depth-first child order.
func (t *Tree) Leaves(id NodeID) []int {
	var out []int
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.Nodes[cur]
		if n.Kind == KindMarker {
			out = append(out, n.Marker)
			continue
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
