package cluster

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// MaxZoomLimit bounds both ends of the zoom range; one pair of grids is
// allocated per level.
const MaxZoomLimit = 30

var ErrMalformedRequest = errors.New("malformed cluster request")

// Request is the self-contained description of one recomputation. It holds
// no references to live objects so it can be serialized across the channel.
type Request struct {
	MinZoom          int      `json:"minZoom"`
	MaxZoom          int      `json:"maxZoom"`
	Zoom             float64  `json:"zoom"`
	MaxClusterRadius int      `json:"maxClusterRadius"`
	Markers          []Marker `json:"markers"`
}

// Levels returns how many zoom levels get a pair of grids.
func (r *Request) Levels() int {
	if r.MinZoom > r.MaxZoom {
		return 0
	}
	return r.MaxZoom - r.MinZoom + 1
}

// Validate checks ranges. An inverted zoom range is allowed and yields a tree
// where every marker hangs off the root.
func (r *Request) Validate() error {
	if r.MinZoom < 0 || r.MinZoom > MaxZoomLimit {
		return fmt.Errorf("%w: minZoom %d out of range [0, %d]", ErrMalformedRequest, r.MinZoom, MaxZoomLimit)
	}
	if r.MaxZoom < 0 || r.MaxZoom > MaxZoomLimit {
		return fmt.Errorf("%w: maxZoom %d out of range [0, %d]", ErrMalformedRequest, r.MaxZoom, MaxZoomLimit)
	}
	if r.MaxClusterRadius <= 0 {
		return fmt.Errorf("%w: maxClusterRadius must be positive, got %d", ErrMalformedRequest, r.MaxClusterRadius)
	}
	if math.IsNaN(r.Zoom) || math.IsInf(r.Zoom, 0) {
		return fmt.Errorf("%w: zoom is not a finite number", ErrMalformedRequest)
	}
	for i, m := range r.Markers {
		if m.Point.Latitude < -90 || m.Point.Latitude > 90 {
			return fmt.Errorf("%w: markers[%d].point.latitude %v out of range", ErrMalformedRequest, i, m.Point.Latitude)
		}
		if m.Point.Longitude < -180 || m.Point.Longitude > 180 {
			return fmt.Errorf("%w: markers[%d].point.longitude %v out of range", ErrMalformedRequest, i, m.Point.Longitude)
		}
	}
	return nil
}

// wire types use pointers so that missing required fields can be told apart
// from zero values
type wirePoint struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireMarker struct {
	Point  *wirePoint `json:"point"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Anchor Anchor     `json:"anchor"`
}

type wireRequest struct {
	MinZoom          *int          `json:"minZoom"`
	MaxZoom          *int          `json:"maxZoom"`
	Zoom             float64       `json:"zoom"`
	MaxClusterRadius *int          `json:"maxClusterRadius"`
	Markers          *[]wireMarker `json:"markers"`
}

// DecodeRequest parses and validates a serialized request.
func DecodeRequest(data []byte) (*Request, error) {
	var w wireRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	switch {
	case w.MinZoom == nil:
		return nil, fmt.Errorf("%w: missing minZoom", ErrMalformedRequest)
	case w.MaxZoom == nil:
		return nil, fmt.Errorf("%w: missing maxZoom", ErrMalformedRequest)
	case w.MaxClusterRadius == nil:
		return nil, fmt.Errorf("%w: missing maxClusterRadius", ErrMalformedRequest)
	case w.Markers == nil:
		return nil, fmt.Errorf("%w: missing markers", ErrMalformedRequest)
	}

	req := &Request{
		MinZoom:          *w.MinZoom,
		MaxZoom:          *w.MaxZoom,
		Zoom:             w.Zoom,
		MaxClusterRadius: *w.MaxClusterRadius,
		Markers:          make([]Marker, len(*w.Markers)),
	}
	for i, m := range *w.Markers {
		if m.Point == nil || m.Point.Latitude == nil || m.Point.Longitude == nil {
			return nil, fmt.Errorf("%w: markers[%d] has no complete point", ErrMalformedRequest, i)
		}
		req.Markers[i] = Marker{
			Point:  Point{Latitude: *m.Point.Latitude, Longitude: *m.Point.Longitude},
			Width:  m.Width,
			Height: m.Height,
			Anchor: m.Anchor,
		}
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Encode serializes the request to its wire form.
func (r *Request) Encode() ([]byte, error) {
	markers := r.Markers
	if markers == nil {
		// an empty set is valid, a missing one is not
		markers = []Marker{}
	}
	cp := *r
	cp.Markers = markers
	return json.Marshal(&cp)
}
