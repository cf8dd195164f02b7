package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"web/geoclusters/cluster"
	"web/geoclusters/logger"
	"web/geoclusters/runner"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, dir string) (*Server, *runner.Registry) {
	t.Helper()
	ch, err := runner.New(context.Background())
	require.NoError(t, err)
	reg, err := runner.NewRegistry(ch, runner.WithSnapshotDir(dir))
	require.NoError(t, err)
	return NewServer(reg, logger.NewNoopLogger(), 10*time.Second), reg
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

type createResponse struct {
	ClusterInfo runner.Info `json:"clusterInfo"`
	Nodes       int         `json:"nodes"`
}

func createCluster(t *testing.T, s *Server, req *cluster.Request) createResponse {
	t.Helper()
	body, err := req.Encode()
	require.NoError(t, err)

	w := do(t, s, http.MethodPost, "/api/clusters", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

var europe = orb.Bound{Min: orb.Point{-10, 35}, Max: orb.Point{30, 60}}

func TestCreateAndQueryCluster(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, reg := newTestServer(t, t.TempDir())
	defer reg.Close()

	created := createCluster(t, s, &cluster.Request{
		MinZoom:          0,
		MaxZoom:          14,
		MaxClusterRadius: 80,
		Markers:          cluster.GenerateTestMarkers(500, europe, 42),
	})
	assert.Equal(t, 500, created.ClusterInfo.NumMarkers)
	assert.Positive(t, created.Nodes)
	id := created.ClusterInfo.ID

	w := do(t, s, http.MethodGet, "/api/clusters/"+id+"?zoom=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fc cluster.FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	total := 0
	for _, f := range fc.Features {
		total += int(f.Properties["point_count"].(float64))
	}
	assert.Equal(t, 500, total)

	w = do(t, s, http.MethodGet, "/api/clusters/"+id+"/summary?zoom=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary cluster.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 500, summary.TotalMarkers)
	assert.Equal(t, len(fc.Features), summary.NumClusters+summary.NumSingleMarkers)

	// a box around the western half only sees part of the markers
	w = do(t, s, http.MethodGet, "/api/clusters/"+id+"/summary?zoom=14&north=60&south=35&west=-10&east=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Less(t, summary.TotalMarkers, 500)
	assert.Positive(t, summary.TotalMarkers)
}

func TestCreateClusterRejectsMalformedRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, reg := newTestServer(t, t.TempDir())
	defer reg.Close()

	w := do(t, s, http.MethodPost, "/api/clusters", []byte(`{"minZoom": 0, "maxZoom": 3, "markers": []}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "maxClusterRadius")
}

func TestListAndLoadSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	s, reg := newTestServer(t, dir)
	created := createCluster(t, s, &cluster.Request{
		MinZoom:          2,
		MaxZoom:          10,
		MaxClusterRadius: 60,
		Markers:          cluster.GenerateTestMarkers(100, europe, 7),
	})
	reg.Close()

	// a fresh process only knows what is on disk
	s, reg = newTestServer(t, dir)
	defer reg.Close()

	w := do(t, s, http.MethodGet, "/api/clusters/list", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []ClusterInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ClusterInfo.ID, list[0].ID)
	assert.Equal(t, 100, list[0].NumMarkers)
	assert.NotEmpty(t, list[0].Size)

	w = do(t, s, http.MethodPost, "/api/clusters/"+list[0].ID+"/load", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, reg.Len())

	w = do(t, s, http.MethodGet, "/api/clusters/"+list[0].ID+"?zoom=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQueryErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, reg := newTestServer(t, t.TempDir())
	defer reg.Close()

	id := createCluster(t, s, &cluster.Request{
		MinZoom:          0,
		MaxZoom:          5,
		MaxClusterRadius: 80,
		Markers:          cluster.GenerateTestMarkers(10, europe, 1),
	}).ClusterInfo.ID

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing zoom", "/api/clusters/" + id, http.StatusBadRequest},
		{"bad zoom", "/api/clusters/" + id + "?zoom=far", http.StatusBadRequest},
		{"partial bounds", "/api/clusters/" + id + "?zoom=3&north=10", http.StatusBadRequest},
		{"bad bound", "/api/clusters/" + id + "?zoom=3&north=x&south=0&east=1&west=0", http.StatusBadRequest},
		{"inverted bounds", "/api/clusters/" + id + "?zoom=3&north=0&south=10&east=1&west=0", http.StatusBadRequest},
		{"unknown id", "/api/clusters/does-not-exist?zoom=3", http.StatusNotFound},
		{"unknown summary", "/api/clusters/does-not-exist/summary?zoom=3", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := do(t, s, http.MethodPost, "/api/clusters/does-not-exist/load", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAntimeridianBoundsAreSplit(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, reg := newTestServer(t, t.TempDir())
	defer reg.Close()

	id := createCluster(t, s, &cluster.Request{
		MinZoom:          0,
		MaxZoom:          8,
		MaxClusterRadius: 40,
		Markers: []cluster.Marker{
			{Point: cluster.Point{Latitude: -17, Longitude: 178}},
			{Point: cluster.Point{Latitude: -14, Longitude: -172}},
			{Point: cluster.Point{Latitude: 48, Longitude: 2}},
		},
	}).ClusterInfo.ID

	w := do(t, s, http.MethodGet, "/api/clusters/"+id+"/summary?zoom=8&north=0&south=-30&west=170&east=-165", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary cluster.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalMarkers)
}

func TestCorsAndMetrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, reg := newTestServer(t, "")
	defer reg.Close()

	w := do(t, s, http.MethodOptions, "/api/clusters", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "geoclusters_http_requests_total")
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", formatFileSize(512))
	assert.Equal(t, "1.5 KB", formatFileSize(1536))
	assert.Equal(t, "3.0 MB", formatFileSize(3*1024*1024))
}
