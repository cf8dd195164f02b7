package cluster

import (
	"math/rand"

	"github.com/paulmach/orb"
)

type Summary struct {
	Zoom             int       `json:"zoom"`
	TotalMarkers     int       `json:"totalMarkers"`
	NumClusters      int       `json:"numClusters"`
	NumSingleMarkers int       `json:"numSingleMarkers"`
	LargestCluster   int       `json:"largestCluster"`
	Bounds           []float64 `json:"bounds,omitempty"`
}

// Summarize totals a view returned by VisibleAt or VisibleWithin.
func Summarize(zoom int, nodes []Node) Summary {
	summary := Summary{Zoom: zoom}
	if len(nodes) == 0 {
		return summary
	}

	var bound orb.Bound
	for i, n := range nodes {
		if n.Kind == KindCluster {
			summary.NumClusters++
			if n.Count > summary.LargestCluster {
				summary.LargestCluster = n.Count
			}
		} else {
			summary.NumSingleMarkers++
		}
		summary.TotalMarkers += n.Count

		if i == 0 {
			bound = n.Bounds
		} else {
			bound = bound.Union(n.Bounds)
		}
	}
	summary.Bounds = []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]}

	return summary
}

// GenerateTestMarkers spreads n markers uniformly over bounds. The same seed
// always yields the same markers in the same order.
func GenerateTestMarkers(n int, bounds orb.Bound, seed int64) []Marker {
	r := rand.New(rand.NewSource(seed))
	markers := make([]Marker, n)

	for i := 0; i < n; i++ {
		lon := bounds.Min[0] + r.Float64()*(bounds.Max[0]-bounds.Min[0])
		lat := bounds.Min[1] + r.Float64()*(bounds.Max[1]-bounds.Min[1])

		markers[i] = Marker{
			Point:  Point{Latitude: lat, Longitude: lon},
			Width:  30,
			Height: 30,
			Anchor: Anchor{Left: 15, Top: 30},
		}
	}

	return markers
}
