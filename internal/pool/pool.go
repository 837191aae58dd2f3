// Package pool implements the worker pool: a bounded, LRU-evicted cache of
// live worker handles keyed by (appDir, configFingerprint), per spec §4.1.
package pool

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wharfd/wharfd/internal/config"
	apperrors "github.com/wharfd/wharfd/internal/errors"
	"github.com/wharfd/wharfd/internal/guard"
	"github.com/wharfd/wharfd/internal/logger"
)

// Status is a worker handle's lifecycle state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusIdle       Status = "idle"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Transport is the abstraction over "however a request actually reaches the
// worker process" — a subprocess pipe, a Unix socket, an upgraded WebSocket
// connection for multiplexing-capable workers. The pool itself is agnostic
// to the transport; spec explicitly treats worker process management as an
// external collaborator.
type Transport interface {
	RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error)
	// Multiplexed reports whether this transport can serve more than one
	// in-flight request concurrently (e.g. a persistent WebSocket session
	// instead of one connection per request).
	Multiplexed() bool
	Close() error
}

// Spawner creates and health-checks worker transports. A production runtime
// wires a subprocess- or isolate-backed implementation; tests use a fake.
type Spawner interface {
	Spawn(ctx context.Context, appDir string, cfg *config.WorkerConfig) (Transport, error)
	Probe(ctx context.Context, t Transport) error
}

// Handle is one live worker instance.
type Handle struct {
	ID                string
	AppDir            string
	ConfigFingerprint string
	Config            *config.WorkerConfig
	CreatedAt         time.Time
	LastUsed          time.Time
	RequestCount      int64
	Status            Status

	transport Transport
	sem       chan struct{} // capacity-1 for exclusive use, capacity-N for multiplexing
	element   *list.Element // this handle's node in the pool's LRU list
	mu        sync.Mutex    // guards Status/LastUsed/RequestCount/CreatedAt/cancels/preempted

	cancels      map[int]context.CancelFunc // in-flight requests' cancel funcs, keyed by a local id
	nextCancelID int
	preempted    bool // true once this handle has been LRU-evicted while active
}

// registerCancel tracks cancel as belonging to an in-flight request on h, so
// a concurrent eviction can preempt it. Returns a token for unregisterCancel.
func (h *Handle) registerCancel(cancel context.CancelFunc) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancels == nil {
		h.cancels = map[int]context.CancelFunc{}
	}
	id := h.nextCancelID
	h.nextCancelID++
	h.cancels[id] = cancel
	return id
}

func (h *Handle) unregisterCancel(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cancels, id)
}

// preemptAll marks h as preempted and cancels every request context
// currently in flight against it, per spec §4.1 step 2: evicting a
// non-idle handle preempts its in-flight work with a cancellation signal.
func (h *Handle) preemptAll() {
	h.mu.Lock()
	h.preempted = true
	cancels := make([]context.CancelFunc, 0, len(h.cancels))
	for _, c := range h.cancels {
		cancels = append(cancels, c)
	}
	h.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (h *Handle) wasPreempted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.preempted
}

func (h *Handle) expired(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.Config.TTLMs > 0 && now.Sub(h.CreatedAt) > time.Duration(h.Config.TTLMs)*time.Millisecond {
		return true
	}
	if h.Status == StatusIdle && now.Sub(h.LastUsed) > time.Duration(h.Config.IdleTimeoutMs)*time.Millisecond {
		return true
	}
	if h.Config.MaxRequests > 0 && atomic.LoadInt64(&h.RequestCount) >= h.Config.MaxRequests {
		return true
	}
	return false
}

// Metrics is a snapshot of the pool's counters.
type Metrics struct {
	CacheHitCount     int64   `json:"cacheHitCount"`
	CacheMissCount    int64   `json:"cacheMissCount"`
	EvictionCount     int64   `json:"evictionCount"`
	WorkerCreatedCount int64  `json:"workerCreatedCount"`
	WorkerFailedCount int64   `json:"workerFailedCount"`
	RequestCount      int64   `json:"requestCount"`
	AvgRequestDuration float64 `json:"avgRequestDuration"`
	CacheSize         int     `json:"cacheSize"`
	HitRate           float64 `json:"hitRate"`
}

// Pool is a bounded LRU cache of worker handles.
type Pool struct {
	mu    sync.Mutex
	cache map[string]*Handle
	lru   *list.List // front = most recently used
	size  int

	spawner Spawner

	cacheHitCount      int64
	cacheMissCount     int64
	evictionCount      int64
	workerCreatedCount int64
	workerFailedCount  int64
	requestCount       int64
	totalDurationNanos int64

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once

	shutdownGrace time.Duration
}

// New builds a Pool with the given capacity and a background sweeper
// running at sweepInterval.
func New(size int, spawner Spawner, sweepInterval, shutdownGrace time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		cache:         map[string]*Handle{},
		lru:           list.New(),
		size:          size,
		spawner:       spawner,
		sweepInterval: sweepInterval,
		shutdownGrace: shutdownGrace,
		stopSweep:     make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Fingerprint computes sha256(canonical-json(cfg)) for the cache key.
func Fingerprint(cfg *config.WorkerConfig) string {
	// encoding/json sorts map keys and preserves declared struct field
	// order, which is sufficient canonicalization for a fingerprint whose
	// only job is "the same logical config always hashes the same."
	b, err := json.Marshal(cfg)
	if err != nil {
		// Only possible if WorkerConfig grows an unmarshalable field; a
		// config that fails to serialize can never be dispatched anyway.
		panic(fmt.Sprintf("pool: config is not serializable: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func cacheKey(appDir, fingerprint string) string {
	return appDir + "\x00" + fingerprint
}

// Dispatch selects or creates a handle for (appDir, cfg), forwards req with
// the per-request deadline, and enforces the body-size cap.
func (p *Pool) Dispatch(ctx context.Context, appDir string, cfg *config.WorkerConfig, req *http.Request) (*http.Response, *apperrors.AppError) {
	if cfg.MaxBodySizeBytes > 0 {
		if req.ContentLength > cfg.MaxBodySizeBytes {
			return nil, apperrors.BodyTooLarge(cfg.MaxBodySizeBytes)
		}
		if req.Body != nil {
			req.Body = guard.LimitedReadCloser(req.Body, cfg.MaxBodySizeBytes)
		}
	}

	fingerprint := Fingerprint(cfg)
	handle, hit, appErr := p.acquire(ctx, appDir, fingerprint, cfg)
	if appErr != nil {
		return nil, appErr
	}
	if hit {
		atomic.AddInt64(&p.cacheHitCount, 1)
	} else {
		atomic.AddInt64(&p.cacheMissCount, 1)
	}

	// Exclusive-use gate: capacity-1 semaphore for non-multiplexing
	// handles, capacity-N for multiplexing-capable ones. Never a global
	// lock across handles.
	select {
	case handle.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.DeadlineExceeded("deadline exceeded waiting for worker handle")
	}
	defer func() { <-handle.sem }()

	handle.mu.Lock()
	handle.Status = StatusActive
	handle.mu.Unlock()

	deadline := time.Duration(cfg.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cancelID := handle.registerCancel(cancel)
	defer handle.unregisterCancel(cancelID)

	start := time.Now()
	resp, err := handle.transport.RoundTrip(reqCtx, req)
	elapsed := time.Since(start)
	atomic.AddInt64(&p.requestCount, 1)
	atomic.AddInt64(&p.totalDurationNanos, elapsed.Nanoseconds())

	if err != nil {
		wasPreempted := handle.wasPreempted()
		p.terminate(handle)
		switch {
		case errors.Is(err, guard.ErrBodyTooLarge):
			return nil, apperrors.BodyTooLarge(cfg.MaxBodySizeBytes)
		case wasPreempted:
			return nil, apperrors.WorkerReplaced()
		case reqCtx.Err() == context.DeadlineExceeded:
			return nil, apperrors.DeadlineExceeded("worker did not respond within the configured timeout")
		default:
			return nil, apperrors.BadGateway(err.Error())
		}
	}

	atomic.AddInt64(&handle.RequestCount, 1)
	handle.mu.Lock()
	handle.LastUsed = time.Now()
	handle.Status = StatusIdle
	handle.mu.Unlock()

	if handle.expired(time.Now()) {
		p.terminate(handle)
	}

	return resp, nil
}

// acquire probes the cache, promotes on hit, evicts and spawns on miss.
func (p *Pool) acquire(ctx context.Context, appDir, fingerprint string, cfg *config.WorkerConfig) (*Handle, bool, *apperrors.AppError) {
	key := cacheKey(appDir, fingerprint)

	p.mu.Lock()
	if h, ok := p.cache[key]; ok {
		if !h.expired(time.Now()) {
			p.lru.MoveToFront(h.element)
			p.mu.Unlock()
			return h, true, nil
		}
		p.removeLocked(h, false)
	}
	p.mu.Unlock()

	handle, appErr := p.spawnWithRetry(ctx, appDir, fingerprint, cfg)
	if appErr != nil {
		return nil, false, appErr
	}

	p.mu.Lock()
	if p.lru.Len() >= p.size {
		p.evictOneLocked()
	}
	elem := p.lru.PushFront(handle)
	handle.element = elem
	p.cache[key] = handle
	p.mu.Unlock()

	return handle, false, nil
}

// spawnWithRetry spawns a handle, retrying once after a short delay per
// spec's failure semantics, then surfacing worker-spawn-failed.
func (p *Pool) spawnWithRetry(ctx context.Context, appDir, fingerprint string, cfg *config.WorkerConfig) (*Handle, *apperrors.AppError) {
	log := logger.Pool()
	transport, err := p.spawner.Spawn(ctx, appDir, cfg)
	if err != nil {
		atomic.AddInt64(&p.workerFailedCount, 1)
		log.Warn().Str("appDir", appDir).Err(err).Msg("worker spawn failed, retrying once")
		time.Sleep(200 * time.Millisecond)
		transport, err = p.spawner.Spawn(ctx, appDir, cfg)
		if err != nil {
			atomic.AddInt64(&p.workerFailedCount, 1)
			return nil, apperrors.New("WORKER_SPAWN_FAILED", "worker-spawn-failed").WithData(map[string]any{"appDir": appDir})
		}
	}

	if err := p.spawner.Probe(ctx, transport); err != nil {
		atomic.AddInt64(&p.workerFailedCount, 1)
		transport.Close()
		return nil, apperrors.New("WORKER_SPAWN_FAILED", "worker-spawn-failed").WithData(map[string]any{"appDir": appDir})
	}

	atomic.AddInt64(&p.workerCreatedCount, 1)
	semCap := 1
	if transport.Multiplexed() {
		semCap = 64
	}
	return &Handle{
		ID:                fingerprint[:12],
		AppDir:            appDir,
		ConfigFingerprint: fingerprint,
		Config:            cfg,
		CreatedAt:         time.Now(),
		LastUsed:          time.Now(),
		Status:            StatusIdle,
		transport:         transport,
		sem:               make(chan struct{}, semCap),
	}, nil
}

// evictOneLocked evicts the least-recently-used idle handle, or if none is
// idle, the least-recently-used handle regardless (preempting its in-flight
// work). Caller holds p.mu.
func (p *Pool) evictOneLocked() {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		h := e.Value.(*Handle)
		h.mu.Lock()
		isIdle := h.Status == StatusIdle
		h.mu.Unlock()
		if isIdle {
			p.removeLocked(h, false)
			atomic.AddInt64(&p.evictionCount, 1)
			return
		}
	}
	// No idle handle exists: evict the LRU handle regardless and preempt
	// its in-flight work (spec §4.1 step 2).
	if back := p.lru.Back(); back != nil {
		h := back.Value.(*Handle)
		p.removeLocked(h, true)
		atomic.AddInt64(&p.evictionCount, 1)
	}
}

// removeLocked drops h from the cache and LRU list and asynchronously
// terminates its transport. When preempt is true, h is being evicted while
// still possibly serving in-flight requests, so every request currently
// registered against it is canceled first.
func (p *Pool) removeLocked(h *Handle, preempt bool) {
	delete(p.cache, cacheKey(h.AppDir, h.ConfigFingerprint))
	if h.element != nil {
		p.lru.Remove(h.element)
	}
	if preempt {
		h.preemptAll()
	}
	go p.terminate(h)
}

// terminate closes the handle's transport and marks it terminated. Safe to
// call more than once.
func (p *Pool) terminate(h *Handle) {
	h.mu.Lock()
	if h.Status == StatusTerminated {
		h.mu.Unlock()
		return
	}
	h.Status = StatusTerminated
	h.mu.Unlock()
	h.transport.Close()
}

func (p *Pool) sweepLoop() {
	if p.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopSweep:
			return
		}
	}
}

// sweep removes expired idle handles. It never touches an active handle.
func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	var toRemove []*Handle
	for e := p.lru.Front(); e != nil; e = e.Next() {
		h := e.Value.(*Handle)
		h.mu.Lock()
		active := h.Status == StatusActive
		h.mu.Unlock()
		if !active && h.expired(now) {
			toRemove = append(toRemove, h)
		}
	}
	for _, h := range toRemove {
		p.removeLocked(h, false)
	}
}

// Metrics returns a snapshot of the pool's counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	size := p.lru.Len()
	p.mu.Unlock()

	hits := atomic.LoadInt64(&p.cacheHitCount)
	misses := atomic.LoadInt64(&p.cacheMissCount)
	reqs := atomic.LoadInt64(&p.requestCount)
	var avg float64
	if reqs > 0 {
		avg = float64(atomic.LoadInt64(&p.totalDurationNanos)) / float64(reqs) / float64(time.Millisecond)
	}
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return Metrics{
		CacheHitCount:      hits,
		CacheMissCount:     misses,
		EvictionCount:      atomic.LoadInt64(&p.evictionCount),
		WorkerCreatedCount: atomic.LoadInt64(&p.workerCreatedCount),
		WorkerFailedCount:  atomic.LoadInt64(&p.workerFailedCount),
		RequestCount:       reqs,
		AvgRequestDuration: avg,
		CacheSize:          size,
		HitRate:            hitRate,
	}
}

// Shutdown terminates every handle, waiting up to the configured grace
// period for in-flight requests before forcing termination.
func (p *Pool) Shutdown() {
	p.sweepOnce.Do(func() { close(p.stopSweep) })

	p.mu.Lock()
	handles := make([]*Handle, 0, p.lru.Len())
	for e := p.lru.Front(); e != nil; e = e.Next() {
		handles = append(handles, e.Value.(*Handle))
	}
	p.cache = map[string]*Handle{}
	p.lru = list.New()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, h := range handles {
			// Take every slot so multiplexed handles also drain all of
			// their in-flight requests, then give the slots back.
			for i := 0; i < cap(h.sem); i++ {
				h.sem <- struct{}{}
			}
			for i := 0; i < cap(h.sem); i++ {
				<-h.sem
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.shutdownGrace):
		logger.Pool().Warn().Msg("shutdown grace period elapsed, forcing termination")
	}
	for _, h := range handles {
		p.terminate(h)
	}
}
