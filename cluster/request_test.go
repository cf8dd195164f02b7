package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	data := []byte(`{
		"minZoom": 0,
		"maxZoom": 18,
		"zoom": 12.5,
		"maxClusterRadius": 80,
		"markers": [
			{"point": {"latitude": 48.8566, "longitude": 2.3522}, "width": 25, "height": 41, "anchor": {"left": 12, "top": 41}},
			{"point": {"latitude": -33.86, "longitude": 151.2}}
		]
	}`)

	req, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, 0, req.MinZoom)
	assert.Equal(t, 18, req.MaxZoom)
	assert.Equal(t, 12.5, req.Zoom)
	assert.Equal(t, 80, req.MaxClusterRadius)
	require.Len(t, req.Markers, 2)
	assert.Equal(t, Marker{
		Point:  Point{Latitude: 48.8566, Longitude: 2.3522},
		Width:  25,
		Height: 41,
		Anchor: Anchor{Left: 12, Top: 41},
	}, req.Markers[0])
	assert.Equal(t, Point{Latitude: -33.86, Longitude: 151.2}, req.Markers[1].Point)
	assert.Equal(t, 19, req.Levels())
}

func TestDecodeRequestEncodeRoundTrip(t *testing.T) {
	req := &Request{MinZoom: 3, MaxZoom: 9, Zoom: 4, MaxClusterRadius: 50, Markers: GenerateTestMarkers(5, continentalUS, 11)}
	data, err := req.Encode()
	require.NoError(t, err)

	got, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	// a nil marker set still encodes as a present, empty list
	data, err = (&Request{MinZoom: 0, MaxZoom: 1, MaxClusterRadius: 10}).Encode()
	require.NoError(t, err)
	got, err = DecodeRequest(data)
	require.NoError(t, err)
	assert.Empty(t, got.Markers)
}

func TestDecodeRequestRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"minZoom": `},
		{"missing minZoom", `{"maxZoom": 3, "maxClusterRadius": 80, "markers": []}`},
		{"missing maxZoom", `{"minZoom": 0, "maxClusterRadius": 80, "markers": []}`},
		{"missing radius", `{"minZoom": 0, "maxZoom": 3, "markers": []}`},
		{"missing markers", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 80}`},
		{"marker without point", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 80, "markers": [{"width": 3}]}`},
		{"marker without longitude", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 80, "markers": [{"point": {"latitude": 1}}]}`},
		{"zero radius", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 0, "markers": []}`},
		{"negative radius", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": -5, "markers": []}`},
		{"negative zoom", `{"minZoom": -1, "maxZoom": 3, "maxClusterRadius": 80, "markers": []}`},
		{"zoom too deep", `{"minZoom": 0, "maxZoom": 31, "maxClusterRadius": 80, "markers": []}`},
		{"latitude out of range", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 80, "markers": [{"point": {"latitude": 91, "longitude": 0}}]}`},
		{"longitude out of range", `{"minZoom": 0, "maxZoom": 3, "maxClusterRadius": 80, "markers": [{"point": {"latitude": 0, "longitude": -180.5}}]}`},
		{"wrong type", `{"minZoom": "zero", "maxZoom": 3, "maxClusterRadius": 80, "markers": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
}

func TestRequestInvertedRangeIsValid(t *testing.T) {
	req := &Request{MinZoom: 5, MaxZoom: 3, MaxClusterRadius: 80}
	require.NoError(t, req.Validate())
	assert.Equal(t, 0, req.Levels())
}
