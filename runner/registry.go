package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"web/geoclusters/cluster"
	"web/geoclusters/logger"
	"web/geoclusters/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("cluster result not found")

const (
	DefaultMaxResults = 50
	DefaultIdleTTL    = 30 * time.Minute
)

// Info describes a completed result, in memory or on disk.
type Info struct {
	ID         string    `json:"id"`
	NumMarkers int       `json:"numMarkers"`
	Timestamp  time.Time `json:"timestamp"`
	FileSize   int64     `json:"fileSize"`
	Elapsed    string    `json:"elapsed,omitempty"`
}

type entry struct {
	info   Info
	result *cluster.Result
}

// call is a computation that was submitted through the registry and has not
// been delivered yet.
type call struct {
	done   chan struct{}
	info   Info
	result *cluster.Result
	err    error
}

// Registry consumes the results of a Channel and keeps the completed ones,
// bounded by count and idle time. Successful results are also written as
// snapshots so evicted ones can be brought back.
type Registry struct {
	ch         *Channel
	log        logger.Logger
	dir        string
	maxResults int
	idleTTL    time.Duration
	now        func() time.Time

	lock         sync.RWMutex
	results      map[string]*entry
	lastAccessed map[string]time.Time
	pending      map[string]*call

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}

// WithSnapshotDir enables persistence into dir. It is created if missing.
func WithSnapshotDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.dir = dir
	}
}

func WithMaxResults(n int) RegistryOption {
	return func(r *Registry) {
		r.maxResults = n
	}
}

func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.idleTTL = ttl
	}
}

// NewRegistry takes ownership of ch: closing the registry closes it.
func NewRegistry(ch *Channel, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		ch:           ch,
		log:          logger.NewNoopLogger(),
		maxResults:   DefaultMaxResults,
		idleTTL:      DefaultIdleTTL,
		now:          time.Now,
		results:      make(map[string]*entry),
		lastAccessed: make(map[string]time.Time),
		pending:      make(map[string]*call),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxResults <= 0 {
		return nil, fmt.Errorf("max results must be positive, got %d", r.maxResults)
	}
	if r.dir != "" {
		if err := os.MkdirAll(r.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	r.wg.Add(2)
	go r.consume()
	go r.cleanupInactiveResults()

	return r, nil
}

// Submit queues req on the channel and remembers it so Await can find it.
func (r *Registry) Submit(ctx context.Context, req *cluster.Request) (uuid.UUID, error) {
	payload, err := req.Encode()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", cluster.ErrMalformedRequest, err)
	}
	return r.SubmitPayload(ctx, payload)
}

func (r *Registry) SubmitPayload(ctx context.Context, payload []byte) (uuid.UUID, error) {
	// register the call first, the worker may finish before submit returns
	id := uuid.New()
	c := &call{done: make(chan struct{})}
	r.lock.Lock()
	r.pending[id.String()] = c
	r.lock.Unlock()

	if err := r.ch.submit(ctx, id, payload); err != nil {
		r.lock.Lock()
		delete(r.pending, id.String())
		r.lock.Unlock()
		return uuid.Nil, err
	}
	return id, nil
}

// Await blocks until the computation id is done and returns its result.
// Computations that were evicted are reloaded from their snapshot. The error
// of a failed computation is only reported to callers already waiting or
// awaiting it for the first time; afterwards the id is unknown.
func (r *Registry) Await(ctx context.Context, id string) (Info, *cluster.Result, error) {
	r.lock.RLock()
	c, waiting := r.pending[id]
	r.lock.RUnlock()

	if waiting {
		select {
		case <-c.done:
			return c.info, c.result, c.err
		case <-ctx.Done():
			return Info{}, nil, ctx.Err()
		}
	}
	return r.Get(id)
}

// Get returns a completed result, loading it from disk when it is not in
// memory.
func (r *Registry) Get(id string) (Info, *cluster.Result, error) {
	if err := r.loadResultIfNeeded(id); err != nil {
		return Info{}, nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()
	e, ok := r.results[id]
	if !ok {
		// evicted again between the load and now
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.info, e.result, nil
}

// Load brings a snapshot into memory.
func (r *Registry) Load(id string) (Info, error) {
	info, _, err := r.Get(id)
	return info, err
}

// Len returns how many results are held in memory.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.results)
}

// Close stops the channel and the registry goroutines. Computations still
// pending fail with ErrChannelClosed.
func (r *Registry) Close() {
	r.ch.Close()
	r.closeOnce.Do(func() {
		close(r.stop)
	})
	r.wg.Wait()
}

func (r *Registry) consume() {
	defer r.wg.Done()

	for comp := range r.ch.Results() {
		r.complete(comp)
	}

	r.lock.Lock()
	for id, c := range r.pending {
		c.err = ErrChannelClosed
		close(c.done)
		delete(r.pending, id)
	}
	r.lock.Unlock()
}

func (r *Registry) complete(comp Computation) {
	id := comp.ID.String()
	info := Info{
		ID:         id,
		NumMarkers: comp.Markers,
		Timestamp:  r.now(),
		Elapsed:    comp.Elapsed.String(),
	}

	if comp.Err == nil && r.dir != "" {
		path := r.snapshotPath(info)
		if err := cluster.SaveSnapshot(path, comp.Result); err != nil {
			r.log.Error("failed to save snapshot", zap.String("id", id), zap.Error(err))
		} else if stat, err := os.Stat(path); err == nil {
			info.FileSize = stat.Size()
		}
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if comp.Err == nil {
		r.store(id, &entry{info: info, result: comp.Result})
	}

	c, ok := r.pending[id]
	if !ok {
		return
	}
	delete(r.pending, id)
	c.info, c.result, c.err = info, comp.Result, comp.Err
	close(c.done)
}

// store adds e, evicting the least recently used result when full. Callers
// hold the write lock.
func (r *Registry) store(id string, e *entry) {
	if _, exists := r.results[id]; !exists && len(r.results) >= r.maxResults {
		var oldestID string
		var oldestTime time.Time
		first := true

		for id, accessTime := range r.lastAccessed {
			if first || accessTime.Before(oldestTime) {
				oldestID = id
				oldestTime = accessTime
				first = false
			}
		}

		if oldestID != "" {
			delete(r.results, oldestID)
			delete(r.lastAccessed, oldestID)
			r.log.Debug("evicted least recently used result", zap.String("id", oldestID))
		}
	}

	r.results[id] = e
	r.lastAccessed[id] = r.now()
	metrics.RegistryResults.Set(float64(len(r.results)))
}

func (r *Registry) cleanupInactiveResults() {
	defer r.wg.Done()

	interval := r.idleTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.now()
	for id, lastAccess := range r.lastAccessed {
		if now.Sub(lastAccess) > r.idleTTL {
			delete(r.results, id)
			delete(r.lastAccessed, id)
			r.log.Debug("evicted idle result", zap.String("id", id))
		}
	}
	metrics.RegistryResults.Set(float64(len(r.results)))
}

func (r *Registry) loadResultIfNeeded(id string) error {
	r.lock.Lock()
	if _, exists := r.results[id]; exists {
		r.lastAccessed[id] = r.now()
		r.lock.Unlock()
		return nil
	}
	r.lock.Unlock()

	// decode outside the lock, it can take a while for large trees
	path, err := r.findSnapshot(id)
	if err != nil {
		return err
	}
	res, err := cluster.LoadSnapshotMMap(path)
	if err != nil {
		return fmt.Errorf("failed to load result %s: %w", id, err)
	}
	info, err := r.snapshotInfo(path)
	if err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.results[id]; exists {
		r.lastAccessed[id] = r.now()
		return nil
	}
	r.store(id, &entry{info: info, result: res})
	r.log.Info("loaded result from snapshot", zap.String("id", id), zap.String("path", path))
	return nil
}

// Snapshot files are named cluster-{numMarkers}m-{yyyymmdd-hhmmss}-{id}.zst
const snapshotTimeLayout = "20060102-150405"

func (r *Registry) snapshotPath(info Info) string {
	name := fmt.Sprintf("cluster-%dm-%s-%s.zst", info.NumMarkers, info.Timestamp.Format(snapshotTimeLayout), info.ID)
	return filepath.Join(r.dir, name)
}

func parseSnapshotName(name string) (Info, bool) {
	if !strings.HasPrefix(name, "cluster-") || !strings.HasSuffix(name, ".zst") {
		return Info{}, false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, ".zst"), "-", 5)
	if len(parts) != 5 || !strings.HasSuffix(parts[1], "m") {
		return Info{}, false
	}

	numMarkers, err := strconv.Atoi(strings.TrimSuffix(parts[1], "m"))
	if err != nil {
		return Info{}, false
	}
	timestamp, err := time.ParseInLocation(snapshotTimeLayout, parts[2]+"-"+parts[3], time.Local)
	if err != nil {
		return Info{}, false
	}
	id, err := uuid.Parse(parts[4])
	if err != nil {
		return Info{}, false
	}

	return Info{ID: id.String(), NumMarkers: numMarkers, Timestamp: timestamp}, true
}

func (r *Registry) snapshotInfo(path string) (Info, error) {
	info, ok := parseSnapshotName(filepath.Base(path))
	if !ok {
		return Info{}, fmt.Errorf("invalid snapshot name %s", filepath.Base(path))
	}
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get file info: %w", err)
	}
	info.FileSize = stat.Size()
	return info, nil
}

func (r *Registry) findSnapshot(id string) (string, error) {
	if r.dir == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	files, err := os.ReadDir(r.dir)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	for _, file := range files {
		if info, ok := parseSnapshotName(file.Name()); ok && info.ID == id {
			return filepath.Join(r.dir, file.Name()), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the snapshots on disk, newest first.
func (r *Registry) List() ([]Info, error) {
	if r.dir == "" {
		return []Info{}, nil
	}
	files, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	infos := make([]Info, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := r.snapshotInfo(filepath.Join(r.dir, file.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}
