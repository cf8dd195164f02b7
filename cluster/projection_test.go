package cluster

import (
	"math"
	"testing"
)

func TestProjectionRoundTrip(t *testing.T) {
	project := MercatorProjector(DefaultTileSize)

	testCases := []struct {
		lng, lat float64
		zoom     int
	}{
		{0, 0, 0},
		{180, 85, 10},
		{-180, -85, 5},
		{45, 45, 8},
		{2.3522, 48.8566, 18},
	}

	for _, tc := range testCases {
		projected := project(Point{Latitude: tc.lat, Longitude: tc.lng}, tc.zoom)
		unprojected := Unproject(projected, tc.zoom, DefaultTileSize)

		// Allow for small floating point differences
		const epsilon = 1e-6
		if math.Abs(tc.lng-unprojected.Longitude) > epsilon ||
			math.Abs(tc.lat-unprojected.Latitude) > epsilon {
			t.Errorf("Projection round trip failed for (%f,%f) at zoom %d: got (%f,%f)",
				tc.lng, tc.lat, tc.zoom, unprojected.Longitude, unprojected.Latitude)
		}
	}
}

func TestProjectionScalesWithZoom(t *testing.T) {
	project := MercatorProjector(DefaultTileSize)

	origin := project(Point{}, 0)
	if math.Abs(origin[0]-128) > 1e-9 || math.Abs(origin[1]-128) > 1e-9 {
		t.Errorf("Expected (0,0) at the center of the zoom 0 tile, got %v", origin)
	}

	a := Point{Latitude: 40, Longitude: -74}
	b := Point{Latitude: 40.01, Longitude: -74.01}
	for z := 0; z < 20; z++ {
		pa, pb := project(a, z), project(b, z)
		qa, qb := project(a, z+1), project(b, z+1)
		d := math.Hypot(pa[0]-pb[0], pa[1]-pb[1])
		next := math.Hypot(qa[0]-qb[0], qa[1]-qb[1])
		if math.Abs(next-2*d) > 1e-6*next {
			t.Errorf("Expected distance to double from zoom %d to %d: %f -> %f", z, z+1, d, next)
		}
	}
}

func TestProjectionClampsPoles(t *testing.T) {
	project := MercatorProjector(512)

	north := project(Point{Latitude: 90, Longitude: 0}, 3)
	if north[1] < -1e-6 || north[1] > 1e-6 {
		t.Errorf("Expected the north pole on the top edge, got y=%f", north[1])
	}
	south := project(Point{Latitude: -90, Longitude: 0}, 3)
	if math.Abs(south[1]-512*8) > 1e-6 {
		t.Errorf("Expected the south pole on the bottom edge, got y=%f", south[1])
	}
}
