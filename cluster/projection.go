package cluster

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// DefaultTileSize matches the 256px tiles of most slippy maps.
	DefaultTileSize = 256

	// maxLatitude is where spherical mercator is clipped.
	maxLatitude = 85.0511287798
	earthRadius = 6378137.0
	halfEquator = math.Pi * earthRadius
	fullEquator = 2 * halfEquator
)

// Projector maps a point to planar pixel space at a zoom level. It must be a
// pure function of its arguments, otherwise rebuilds are not reproducible.
type Projector func(p Point, zoom int) orb.Point

// MercatorProjector returns the spherical mercator projection used by web maps,
// scaled to tileSize * 2^zoom pixels.
func MercatorProjector(tileSize int) Projector {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	ts := float64(tileSize)
	return func(p Point, zoom int) orb.Point {
		lat := math.Max(-maxLatitude, math.Min(maxLatitude, p.Latitude))
		m := project.WGS84.ToMercator(orb.Point{p.Longitude, lat})

		scale := ts * math.Pow(2, float64(zoom))
		return orb.Point{
			scale * (0.5 + m[0]/fullEquator),
			scale * (0.5 - m[1]/fullEquator),
		}
	}
}

// Unproject converts a pixel position at zoom back to a point, the inverse of
// MercatorProjector(tileSize).
func Unproject(pixel orb.Point, zoom int, tileSize int) Point {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	scale := float64(tileSize) * math.Pow(2, float64(zoom))
	m := orb.Point{
		(pixel[0]/scale - 0.5) * fullEquator,
		(0.5 - pixel[1]/scale) * fullEquator,
	}
	return pointFromOrb(project.Mercator.ToWGS84(m))
}
