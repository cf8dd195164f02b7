package cluster

import (
	"github.com/paulmach/orb"
)

// GeoJSON types
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ClampZoom limits zoom to the levels the tree can answer for. Anything finer
// than MaxZoom shows bare markers.
func (t *Tree) ClampZoom(zoom int) int {
	if zoom > t.MaxZoom+1 {
		zoom = t.MaxZoom + 1
	}
	if zoom < t.MinZoom {
		zoom = t.MinZoom
	}
	return zoom
}

// VisibleAt returns what a map shows at zoom: clusters formed at that zoom and
// markers that are still alone there.
func (t *Tree) VisibleAt(zoom int) []Node {
	return t.visible(zoom, nil)
}

// VisibleWithin is VisibleAt restricted to nodes whose bounds intersect b.
func (t *Tree) VisibleWithin(zoom int, b orb.Bound) []Node {
	return t.visible(zoom, &b)
}

func (t *Tree) visible(zoom int, within *orb.Bound) []Node {
	zoom = t.ClampZoom(zoom)

	var out []Node
	queue := []NodeID{t.Root}
	for len(queue) > 0 {
		n := &t.Nodes[queue[0]]
		queue = queue[1:]
		for _, cid := range n.Children {
			c := &t.Nodes[cid]
			if within != nil && !within.Intersects(c.Bounds) {
				continue
			}
			if c.Kind == KindCluster && c.Zoom < zoom {
				queue = append(queue, cid)
				continue
			}
			out = append(out, *c)
		}
	}
	return out
}

// ToFeatureCollection renders nodes as GeoJSON points. Clusters are placed at
// their centroid; markers carry their display metadata unchanged.
func (t *Tree) ToFeatureCollection(nodes []Node) *FeatureCollection {
	features := make([]Feature, len(nodes))
	for i, n := range nodes {
		properties := map[string]interface{}{
			"cluster":     n.Kind == KindCluster,
			"cluster_id":  n.ID,
			"point_count": n.Count,
			"zoom":        n.Zoom,
		}
		if n.Kind == KindMarker {
			m := t.Markers[n.Marker]
			properties["marker_index"] = n.Marker
			properties["width"] = m.Width
			properties["height"] = m.Height
			properties["anchor"] = m.Anchor
		} else {
			properties["bbox"] = []float64{n.Bounds.Min[0], n.Bounds.Min[1], n.Bounds.Max[0], n.Bounds.Max[1]}
		}

		features[i] = Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{n.Centroid.Longitude, n.Centroid.Latitude},
			},
			Properties: properties,
		}
	}

	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
