// Package gate provides the bounded-admission pools that throttle a scan
// batch: one for per-URL tasks, one for open pages, one for proxied attempts.
package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ProxyLimit is the fixed admission size of the proxy gate.
const ProxyLimit = 5

// Gate is a counting semaphore that also records how many holders it has
// admitted at once. Acquire blocks until a slot is free; exhaustion only
// ever queues callers.
type Gate struct {
	name     string
	capacity int
	sem      *semaphore.Weighted

	mu       sync.Mutex
	inFlight int
	peak     int
}

// New creates a Gate admitting at most capacity holders. A non-positive
// capacity is treated as 1.
func New(name string, capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		name:     name,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire takes one slot. It only fails if ctx is done before a slot frees.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()
	return nil
}

// Release returns one slot.
func (g *Gate) Release() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	g.sem.Release(1)
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// Name returns the gate's label, used in logs.
func (g *Gate) Name() string { return g.name }

// Capacity returns the maximum number of concurrent holders.
func (g *Gate) Capacity() int { return g.capacity }

// InFlight returns the number of current holders.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// Peak returns the highest number of simultaneous holders observed.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// Set groups the three independent gates of a scan batch.
type Set struct {
	Task  *Gate
	Page  *Gate
	Proxy *Gate
}

// NewSet builds the task and page gates with the given sizes and the proxy
// gate with ProxyLimit.
func NewSet(taskLimit, pageLimit int) *Set {
	return &Set{
		Task:  New("task", taskLimit),
		Page:  New("page", pageLimit),
		Proxy: New("proxy", ProxyLimit),
	}
}
