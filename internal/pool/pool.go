// Package pool provides a bounded, fair pool of expensive resource handles.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	ErrPoolClosed    = errors.New("pool is closed")
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrInvalidHandle = errors.New("handle was not checked out from this pool")
)

// Poolable represents a poolable resource
type Poolable interface {
	Close() error
	IsHealthy() bool
	Reset() error
}

// Handle is the constraint for pooled values. Handles are tracked by identity,
// so they must be comparable (pointers or interface values wrapping pointers).
type Handle interface {
	comparable
	Poolable
}

// Factory creates new poolable resources
type Factory[T Handle] func(ctx context.Context) (T, error)

// Config configures the pool
type Config struct {
	Size           int           // Hard cap on live handles
	Prewarm        int           // Handles created up front
	AcquireTimeout time.Duration // Default wait for Acquire
	DrainTimeout   time.Duration // Grace period in Close before force-closing checked-out handles
	HealthCheck    bool          // Check idle handles before lending them; Release relies on Reset
}

// DefaultConfig returns default pool configuration
func DefaultConfig() *Config {
	return &Config{
		Size:           10,
		Prewarm:        10,
		AcquireTimeout: 5 * time.Second,
		DrainTimeout:   10 * time.Second,
		HealthCheck:    true,
	}
}

// Stats tracks pool statistics
type Stats struct {
	TotalCreated  int64
	TotalClosed   int64
	TotalAcquired int64
	TotalReleased int64
	TotalRetired  int64
	TotalTimeouts int64
	TotalErrors   int64
	CurrentSize   int64
	CurrentInUse  int64
	CurrentIdle   int64
	Waiting       int64
	WaitCount     int64
	WaitDuration  int64 // nanoseconds
}

// grant is delivered to a blocked acquirer. Either a handle is handed over,
// or the waiter inherits a reserved slot and must create the handle itself.
type grant[T Handle] struct {
	handle T
	create bool
	err    error
}

type waiter[T Handle] struct {
	ch chan grant[T]
}

// handle states for outstanding handles
const (
	stateLent      = iota
	stateReleasing // Reset in progress, not yet back in the idle set
)

// Pool is a fixed-capacity pool of handles with FIFO hand-off to blocked callers.
//
// Every live handle is in exactly one of: the idle slice, the outstanding map,
// or being created for a caller that holds its reserved slot. live counts all
// three and never exceeds Config.Size.
type Pool[T Handle] struct {
	mu          sync.Mutex
	factory     Factory[T]
	config      *Config
	idle        []T
	outstanding map[T]int
	waiters     *list.List // of *waiter[T]
	live        int
	closed      bool
	drained     chan struct{}

	stats Stats
}

// New creates a pool and prewarms Config.Prewarm handles.
func New[T Handle](ctx context.Context, factory Factory[T], config *Config) (*Pool[T], error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Size < 1 {
		config.Size = 1
	}
	if config.Prewarm > config.Size {
		config.Prewarm = config.Size
	}

	p := &Pool[T]{
		factory:     factory,
		config:      config,
		idle:        make([]T, 0, config.Size),
		outstanding: make(map[T]int, config.Size),
		waiters:     list.New(),
	}

	if config.Prewarm > 0 {
		created := make([]T, config.Prewarm)
		g, gctx := errgroup.WithContext(ctx)
		for i := range created {
			g.Go(func() error {
				h, err := factory(gctx)
				if err != nil {
					return err
				}
				created[i] = h
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			var zero T
			for _, h := range created {
				if h != zero {
					_ = h.Close()
				}
			}
			return nil, err
		}
		p.idle = append(p.idle, created...)
		p.live = len(created)
		atomic.AddInt64(&p.stats.TotalCreated, int64(len(created)))
		atomic.StoreInt64(&p.stats.CurrentSize, int64(len(created)))
		atomic.StoreInt64(&p.stats.CurrentIdle, int64(len(created)))
	}

	return p, nil
}

// Acquire gets a handle, waiting at most Config.AcquireTimeout (or until the
// context deadline, whichever comes first).
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	return p.AcquireWithin(ctx, p.config.AcquireTimeout)
}

// AcquireWithin gets a handle, waiting at most timeout. A non-positive timeout
// waits until the context is done.
func (p *Pool[T]) AcquireWithin(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}

	// Idle handles only exist when nobody is queued: release hands off directly.
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		atomic.AddInt64(&p.stats.CurrentIdle, -1)
		p.lendLocked(h)
		p.mu.Unlock()
		return p.checkHealth(ctx, h)
	}

	if p.live < p.config.Size {
		p.live++
		p.mu.Unlock()
		return p.create(ctx)
	}

	w := &waiter[T]{ch: make(chan grant[T], 1)}
	elem := p.waiters.PushBack(w)
	atomic.AddInt64(&p.stats.Waiting, 1)
	p.mu.Unlock()

	g, err := p.wait(ctx, w, elem, timeout)
	if err != nil {
		return zero, err
	}
	if g.err != nil {
		return zero, g.err
	}
	if g.create {
		return p.create(ctx)
	}
	return g.handle, nil
}

// checkHealth replaces a lent idle handle that fails its health check. The
// slot stays reserved for the caller while the replacement is created.
func (p *Pool[T]) checkHealth(ctx context.Context, h T) (T, error) {
	if !p.config.HealthCheck || h.IsHealthy() {
		return h, nil
	}

	p.mu.Lock()
	if _, still := p.outstanding[h]; !still {
		// Force-closed by Close; the slot is already gone.
		p.mu.Unlock()
		var zero T
		return zero, ErrPoolClosed
	}
	delete(p.outstanding, h)
	atomic.AddInt64(&p.stats.CurrentInUse, -1)
	atomic.AddInt64(&p.stats.TotalAcquired, -1)
	p.mu.Unlock()

	_ = h.Close()
	atomic.AddInt64(&p.stats.TotalClosed, 1)
	atomic.AddInt64(&p.stats.TotalRetired, 1)
	atomic.AddInt64(&p.stats.CurrentSize, -1)
	return p.create(ctx)
}

func (p *Pool[T]) wait(ctx context.Context, w *waiter[T], elem *list.Element, timeout time.Duration) (grant[T], error) {
	atomic.AddInt64(&p.stats.WaitCount, 1)
	start := time.Now()
	defer func() {
		atomic.AddInt64(&p.stats.WaitDuration, int64(time.Since(start)))
		atomic.AddInt64(&p.stats.Waiting, -1)
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	var cause error
	select {
	case g := <-w.ch:
		return g, nil
	case <-timerC:
		cause = ErrPoolExhausted
	case <-ctx.Done():
		cause = ctx.Err()
	}

	p.mu.Lock()
	stillQueued := false
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == elem {
			stillQueued = true
			break
		}
	}
	if stillQueued {
		p.waiters.Remove(elem)
		p.mu.Unlock()
		atomic.AddInt64(&p.stats.TotalTimeouts, 1)
		return grant[T]{}, cause
	}
	p.mu.Unlock()

	// A grant raced with the deadline; it is already ours.
	return <-w.ch, nil
}

// create builds a handle for a caller that already holds a reserved slot.
func (p *Pool[T]) create(ctx context.Context) (T, error) {
	var zero T

	h, err := p.factory(ctx)
	if err != nil {
		atomic.AddInt64(&p.stats.TotalErrors, 1)
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
		return zero, err
	}

	atomic.AddInt64(&p.stats.TotalCreated, 1)
	atomic.AddInt64(&p.stats.CurrentSize, 1)

	p.mu.Lock()
	if p.closed {
		p.live--
		p.signalDrainedLocked()
		p.mu.Unlock()
		_ = h.Close()
		atomic.AddInt64(&p.stats.TotalClosed, 1)
		atomic.AddInt64(&p.stats.CurrentSize, -1)
		return zero, ErrPoolClosed
	}
	p.lendLocked(h)
	p.mu.Unlock()
	return h, nil
}

func (p *Pool[T]) lendLocked(h T) {
	p.outstanding[h] = stateLent
	atomic.AddInt64(&p.stats.CurrentInUse, 1)
	atomic.AddInt64(&p.stats.TotalAcquired, 1)
}

// freeSlotLocked gives a released slot to the oldest waiter, or shrinks the pool.
func (p *Pool[T]) freeSlotLocked() {
	if !p.closed {
		if front := p.waiters.Front(); front != nil {
			p.waiters.Remove(front)
			front.Value.(*waiter[T]).ch <- grant[T]{create: true}
			return
		}
	}
	p.live--
	p.signalDrainedLocked()
}

// Release returns a handle to the pool. A handle that fails Reset is retired
// instead of recycled.
func (p *Pool[T]) Release(h T) error {
	p.mu.Lock()
	state, ok := p.outstanding[h]
	if !ok || state != stateLent {
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return ErrPoolClosed
		}
		return ErrInvalidHandle
	}
	p.outstanding[h] = stateReleasing
	p.mu.Unlock()

	if err := h.Reset(); err != nil {
		p.retire(h)
		return err
	}
	p.mu.Lock()
	if _, still := p.outstanding[h]; !still {
		// Force-closed by Close while resetting.
		p.mu.Unlock()
		return ErrPoolClosed
	}
	delete(p.outstanding, h)
	atomic.AddInt64(&p.stats.CurrentInUse, -1)
	atomic.AddInt64(&p.stats.TotalReleased, 1)

	if p.closed {
		p.live--
		p.signalDrainedLocked()
		p.mu.Unlock()
		_ = h.Close()
		atomic.AddInt64(&p.stats.TotalClosed, 1)
		atomic.AddInt64(&p.stats.CurrentSize, -1)
		return nil
	}

	if front := p.waiters.Front(); front != nil {
		p.waiters.Remove(front)
		p.lendLocked(h)
		front.Value.(*waiter[T]).ch <- grant[T]{handle: h}
		p.mu.Unlock()
		return nil
	}

	p.idle = append(p.idle, h)
	atomic.AddInt64(&p.stats.CurrentIdle, 1)
	p.mu.Unlock()
	return nil
}

// Retire closes a checked-out handle the caller found unhealthy and frees its
// slot for a replacement.
func (p *Pool[T]) Retire(h T) error {
	p.mu.Lock()
	state, ok := p.outstanding[h]
	if !ok || state != stateLent {
		p.mu.Unlock()
		return ErrInvalidHandle
	}
	p.outstanding[h] = stateReleasing
	p.mu.Unlock()

	p.retire(h)
	return nil
}

func (p *Pool[T]) retire(h T) {
	p.mu.Lock()
	if _, still := p.outstanding[h]; !still {
		p.mu.Unlock()
		return
	}
	delete(p.outstanding, h)
	atomic.AddInt64(&p.stats.CurrentInUse, -1)
	atomic.AddInt64(&p.stats.TotalRetired, 1)
	p.freeSlotLocked()
	p.mu.Unlock()

	_ = h.Close()
	atomic.AddInt64(&p.stats.TotalClosed, 1)
	atomic.AddInt64(&p.stats.CurrentSize, -1)
}

func (p *Pool[T]) signalDrainedLocked() {
	if p.closed && p.live == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// Close stops the pool. New acquires fail with ErrPoolClosed and blocked
// acquirers are woken with it. Idle handles are closed immediately; Close then
// waits up to Config.DrainTimeout (or until ctx is done) for checked-out
// handles to come back, and force-closes any that have not. A handle released
// after being force-closed yields ErrPoolClosed.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter[T]).ch <- grant[T]{err: ErrPoolClosed}
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	atomic.StoreInt64(&p.stats.CurrentIdle, 0)

	var drained chan struct{}
	if p.live > 0 {
		drained = make(chan struct{})
		p.drained = drained
	}
	p.mu.Unlock()

	var result *multierror.Error
	for _, h := range idle {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		atomic.AddInt64(&p.stats.TotalClosed, 1)
		atomic.AddInt64(&p.stats.CurrentSize, -1)
	}

	if drained != nil {
		var timerC <-chan time.Time
		if p.config.DrainTimeout > 0 {
			timer := time.NewTimer(p.config.DrainTimeout)
			defer timer.Stop()
			timerC = timer.C
		}

		select {
		case <-drained:
		case <-timerC:
			result = p.forceClose(result)
		case <-ctx.Done():
			result = p.forceClose(result)
		}
	}

	return result.ErrorOrNil()
}

func (p *Pool[T]) forceClose(result *multierror.Error) *multierror.Error {
	p.mu.Lock()
	leaked := make([]T, 0, len(p.outstanding))
	for h := range p.outstanding {
		leaked = append(leaked, h)
	}
	clear(p.outstanding)
	p.live -= len(leaked)
	p.drained = nil
	p.mu.Unlock()

	for _, h := range leaked {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		atomic.AddInt64(&p.stats.TotalClosed, 1)
		atomic.AddInt64(&p.stats.CurrentSize, -1)
		atomic.AddInt64(&p.stats.CurrentInUse, -1)
	}
	return result
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() *Stats {
	return &Stats{
		TotalCreated:  atomic.LoadInt64(&p.stats.TotalCreated),
		TotalClosed:   atomic.LoadInt64(&p.stats.TotalClosed),
		TotalAcquired: atomic.LoadInt64(&p.stats.TotalAcquired),
		TotalReleased: atomic.LoadInt64(&p.stats.TotalReleased),
		TotalRetired:  atomic.LoadInt64(&p.stats.TotalRetired),
		TotalTimeouts: atomic.LoadInt64(&p.stats.TotalTimeouts),
		TotalErrors:   atomic.LoadInt64(&p.stats.TotalErrors),
		CurrentSize:   atomic.LoadInt64(&p.stats.CurrentSize),
		CurrentInUse:  atomic.LoadInt64(&p.stats.CurrentInUse),
		CurrentIdle:   atomic.LoadInt64(&p.stats.CurrentIdle),
		Waiting:       atomic.LoadInt64(&p.stats.Waiting),
		WaitCount:     atomic.LoadInt64(&p.stats.WaitCount),
		WaitDuration:  atomic.LoadInt64(&p.stats.WaitDuration),
	}
}

// Capacity returns the configured maximum number of handles.
func (p *Pool[T]) Capacity() int {
	return p.config.Size
}

// Available returns number of idle handles
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// InUse returns number of handles checked out
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outstanding)
}

// Report is a point-in-time pool status report
type Report struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	Capacity        int           `json:"capacity"`
	CurrentSize     int           `json:"current_size"`
	CurrentInUse    int           `json:"current_in_use"`
	CurrentIdle     int           `json:"current_idle"`
	Waiting         int           `json:"waiting"`
	Utilization     float64       `json:"utilization"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalTimeouts   int64         `json:"total_timeouts"`
	AvgWaitDuration time.Duration `json:"avg_wait_duration"`
}

// GenerateReport generates a pool status report
func (p *Pool[T]) GenerateReport() *Report {
	stats := p.Stats()

	report := &Report{
		GeneratedAt:   time.Now(),
		Capacity:      p.config.Size,
		CurrentSize:   int(stats.CurrentSize),
		CurrentInUse:  int(stats.CurrentInUse),
		CurrentIdle:   int(stats.CurrentIdle),
		Waiting:       int(stats.Waiting),
		TotalAcquired: stats.TotalAcquired,
		TotalReleased: stats.TotalReleased,
		TotalTimeouts: stats.TotalTimeouts,
	}

	if p.config.Size > 0 {
		report.Utilization = float64(stats.CurrentInUse) / float64(p.config.Size) * 100
	}

	if stats.WaitCount > 0 {
		report.AvgWaitDuration = time.Duration(stats.WaitDuration / stats.WaitCount)
	}

	return report
}
