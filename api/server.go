package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"web/geoclusters/cluster"
	"web/geoclusters/logger"
	"web/geoclusters/metrics"
	"web/geoclusters/runner"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// maxBodyBytes caps request payloads; a million markers is well below it.
const maxBodyBytes = 256 << 20

type Server struct {
	registry *runner.Registry
	log      logger.Logger
	timeout  time.Duration
	engine   *gin.Engine
}

// ClusterInfo is a snapshot listing entry.
type ClusterInfo struct {
	runner.Info
	Size string `json:"size"`
}

func NewServer(registry *runner.Registry, log logger.Logger, timeout time.Duration) *Server {
	s := &Server{
		registry: registry,
		log:      log,
		timeout:  timeout,
		engine:   gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), s.requestLogger(), cors())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/clusters", s.createCluster)
	r.GET("/api/clusters/list", s.listClusters)
	r.POST("/api/clusters/:id/load", s.loadCluster)
	r.GET("/api/clusters/:id", s.getClusters)
	r.GET("/api/clusters/:id/summary", s.getSummary)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		s.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// Submit a request and wait for its computation
func (s *Server) createCluster(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	id, err := s.registry.SubmitPayload(ctx, payload)
	if err != nil {
		s.fail(c, err)
		return
	}

	info, res, err := s.registry.Await(ctx, id.String())
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Cluster computed",
		"clusterInfo": info,
		"minZoom":     res.MinZoom,
		"maxZoom":     res.MaxZoom,
		"zoom":        res.Zoom,
		"nodes":       res.Tree.Len(),
	})
}

// List snapshots on disk
func (s *Server) listClusters(c *gin.Context) {
	infos, err := s.registry.List()
	if err != nil {
		s.fail(c, err)
		return
	}

	clusters := make([]ClusterInfo, len(infos))
	for i, info := range infos {
		clusters[i] = ClusterInfo{Info: info, Size: formatFileSize(info.FileSize)}
	}
	c.JSON(http.StatusOK, clusters)
}

func (s *Server) loadCluster(c *gin.Context) {
	info, err := s.registry.Load(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cluster loaded successfully", "clusterInfo": info})
}

// Get clusters based on zoom and bounds
func (s *Server) getClusters(c *gin.Context) {
	tree, zoom, nodes, ok := s.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"type":     "FeatureCollection",
		"zoom":     zoom,
		"features": tree.ToFeatureCollection(nodes).Features,
	})
}

func (s *Server) getSummary(c *gin.Context) {
	_, zoom, nodes, ok := s.view(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cluster.Summarize(zoom, nodes))
}

// view resolves the result named by the path and the nodes visible for the
// query. It writes the error response itself and reports false on failure.
func (s *Server) view(c *gin.Context) (*cluster.Tree, int, []cluster.Node, bool) {
	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid zoom parameter"})
		return nil, 0, nil, false
	}

	bounds, err := parseBounds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, 0, nil, false
	}

	_, res, err := s.registry.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return nil, 0, nil, false
	}

	tree := res.Tree
	zoom = tree.ClampZoom(zoom)
	if bounds == nil {
		return tree, zoom, tree.VisibleAt(zoom), true
	}

	var nodes []cluster.Node
	seen := make(map[cluster.NodeID]bool)
	for _, b := range bounds {
		for _, n := range tree.VisibleWithin(zoom, b) {
			if !seen[n.ID] {
				seen[n.ID] = true
				nodes = append(nodes, n)
			}
		}
	}
	return tree, zoom, nodes, true
}

// parseBounds reads north, south, east and west. All four or none must be
// given. A box crossing the antimeridian (west > east) is split in two.
func parseBounds(c *gin.Context) ([]orb.Bound, error) {
	names := []string{"north", "south", "east", "west"}
	values := make(map[string]float64, len(names))
	for _, name := range names {
		raw, ok := c.GetQuery(name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("Invalid %s parameter", name)
		}
		values[name] = v
	}

	switch len(values) {
	case 0:
		return nil, nil
	case len(names):
	default:
		return nil, errors.New("bounds need north, south, east and west")
	}

	north, south, east, west := values["north"], values["south"], values["east"], values["west"]
	if south > north {
		return nil, errors.New("south is above north")
	}
	if west <= east {
		return []orb.Bound{{Min: orb.Point{west, south}, Max: orb.Point{east, north}}}, nil
	}
	return []orb.Bound{
		{Min: orb.Point{west, south}, Max: orb.Point{180, north}},
		{Min: orb.Point{-180, south}, Max: orb.Point{east, north}},
	}, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cluster.ErrMalformedRequest):
		status = http.StatusBadRequest
	case errors.Is(err, runner.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrChannelClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, cluster.ErrCorruptSnapshot):
		status = http.StatusUnprocessableEntity
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
