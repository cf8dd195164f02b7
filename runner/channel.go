package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"web/geoclusters/cluster"
	"web/geoclusters/logger"
	"web/geoclusters/metrics"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

var (
	ErrWorkerStart   = errors.New("computation worker failed to start")
	ErrChannelClosed = errors.New("computation channel closed")
	ErrPanic         = errors.New("computation panicked")
)

const DefaultInboxSize = 16

// Computation is one finished request, emitted in submission order. Exactly
// one of Result and Err is set. Result is never modified after it is emitted
// and may be shared freely.
type Computation struct {
	ID      uuid.UUID
	Markers int
	Result  *cluster.Result
	Err     error
	Elapsed time.Duration
}

type envelope struct {
	id      uuid.UUID
	payload []byte
}

// Channel runs cluster computations on a single background worker. Requests
// are processed one at a time in the order they were submitted.
type Channel struct {
	log       logger.Logger
	project   cluster.Projector
	inboxSize int

	inbox   chan envelope
	results chan Computation

	// done is closed by Close, stopped by the worker on exit
	done      chan struct{}
	stopped   chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type Option func(*Channel)

func WithLogger(l logger.Logger) Option {
	return func(c *Channel) {
		c.log = l
	}
}

// WithProjector replaces the default 256px mercator projection.
func WithProjector(p cluster.Projector) Option {
	return func(c *Channel) {
		c.project = p
	}
}

func WithTileSize(tileSize int) Option {
	return func(c *Channel) {
		c.project = cluster.MercatorProjector(tileSize)
	}
}

// WithInboxSize sets how many submissions can wait for the worker before
// Submit blocks.
func WithInboxSize(n int) Option {
	return func(c *Channel) {
		c.inboxSize = n
	}
}

// New starts the worker and waits for it to report ready. A worker that fails
// to initialise is not retried; the error wraps ErrWorkerStart.
func New(ctx context.Context, opts ...Option) (*Channel, error) {
	c := &Channel{
		log:       logger.NewNoopLogger(),
		project:   cluster.MercatorProjector(cluster.DefaultTileSize),
		inboxSize: DefaultInboxSize,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.inboxSize < 0 {
		return nil, fmt.Errorf("%w: negative inbox size %d", ErrWorkerStart, c.inboxSize)
	}
	c.inbox = make(chan envelope, c.inboxSize)
	c.results = make(chan Computation, c.inboxSize)

	workerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	ready := make(chan error, 1)
	go c.run(workerCtx, ready)

	select {
	case err := <-ready:
		if err != nil {
			c.Close()
			return nil, err
		}
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrWorkerStart, ctx.Err())
	}

	c.log.Debug("computation worker ready", zap.Int("inbox", c.inboxSize))
	return c, nil
}

// Submit serializes req and queues it. The returned ID tags the matching
// Computation on Results.
func (c *Channel) Submit(ctx context.Context, req *cluster.Request) (uuid.UUID, error) {
	payload, err := req.Encode()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", cluster.ErrMalformedRequest, err)
	}
	return c.SubmitPayload(ctx, payload)
}

// SubmitPayload queues an already serialized request. It only blocks while
// the inbox is full.
func (c *Channel) SubmitPayload(ctx context.Context, payload []byte) (uuid.UUID, error) {
	id := uuid.New()
	if err := c.submit(ctx, id, payload); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (c *Channel) submit(ctx context.Context, id uuid.UUID, payload []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.inbox <- envelope{id: id, payload: payload}:
		metrics.InboxDepth.Inc()
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results is the ordered stream of computations. It is closed once the
// channel is closed.
func (c *Channel) Results() <-chan Computation {
	return c.results
}

// Close stops the worker. A computation in progress is abandoned and never
// emitted; queued submissions are dropped. Close is safe to call more than
// once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		// cancel first: once done is observable the build is already told to stop
		c.cancel()
		close(c.done)
	})
	<-c.stopped
}

func (c *Channel) run(ctx context.Context, ready chan<- error) {
	defer close(c.stopped)
	defer close(c.results)

	if err := c.init(); err != nil {
		ready <- err
		return
	}
	ready <- nil

	for {
		select {
		case <-c.done:
			c.drop()
			return
		case env := <-c.inbox:
			metrics.InboxDepth.Dec()

			comp := c.compute(ctx, env)
			if ctx.Err() != nil {
				c.log.Debug("computation abandoned", zap.String("id", env.id.String()))
				c.drop()
				return
			}

			select {
			case c.results <- comp:
			case <-c.done:
				c.drop()
				return
			}
		}
	}
}

// init checks the projector on a probe point before the worker accepts work.
func (c *Channel) init() error {
	if c.project == nil {
		return fmt.Errorf("%w: no projector", ErrWorkerStart)
	}

	var probe [2]float64
	recovered := panics.Try(func() {
		p := c.project(cluster.Point{}, 0)
		probe = [2]float64{p[0], p[1]}
	})
	if recovered != nil {
		return fmt.Errorf("%w: %w", ErrWorkerStart, recovered.AsError())
	}
	for _, v := range probe {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: projector returned %v", ErrWorkerStart, probe)
		}
	}
	return nil
}

func (c *Channel) compute(ctx context.Context, env envelope) Computation {
	start := time.Now()
	comp := Computation{ID: env.id}
	id := zap.String("id", env.id.String())

	req, err := cluster.DecodeRequest(env.payload)
	if err != nil {
		comp.Err = err
		comp.Elapsed = time.Since(start)
		metrics.ComputationsTotal.WithLabelValues(metrics.StatusMalformed).Inc()
		c.log.Warn("rejected malformed request", id, zap.Error(err))
		return comp
	}
	comp.Markers = len(req.Markers)
	metrics.MarkersPerRequest.Observe(float64(comp.Markers))
	c.log.Debug("computation started", id, zap.Int("markers", comp.Markers),
		zap.Int("minZoom", req.MinZoom), zap.Int("maxZoom", req.MaxZoom))

	var res *cluster.Result
	recovered := panics.Try(func() {
		res, err = cluster.Build(ctx, req, c.project)
	})
	if recovered != nil {
		err = fmt.Errorf("%w: %w", ErrPanic, recovered.AsError())
	}
	comp.Elapsed = time.Since(start)

	if err != nil {
		comp.Err = err
		if ctx.Err() == nil {
			metrics.ComputationsTotal.WithLabelValues(metrics.StatusFailed).Inc()
			c.log.Error("computation failed", id, zap.Error(err))
		}
		return comp
	}

	comp.Result = res
	metrics.ComputationsTotal.WithLabelValues(metrics.StatusOK).Inc()
	metrics.BuildDuration.Observe(comp.Elapsed.Seconds())
	c.log.Info("computation finished", id, zap.Int("markers", comp.Markers),
		zap.Int("nodes", res.Tree.Len()), zap.Duration("elapsed", comp.Elapsed))
	return comp
}

// drop empties the inbox after the worker stopped so the depth gauge stays
// accurate.
func (c *Channel) drop() {
	for {
		select {
		case <-c.inbox:
			metrics.InboxDepth.Dec()
		default:
			return
		}
	}
}
