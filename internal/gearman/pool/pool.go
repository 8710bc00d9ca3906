// Package pool manages a set of endpoints keyed by job-server address
// and grouped under caller-chosen labels, generalizing the teacher's
// client-connection registry (keyed by zipcode) into a registry of
// gasync endpoints (e.g. one group per Gearman server cluster a
// caller talks to). It is the D3 façade named in SPEC_FULL.md: callers that
// need "the live endpoint for this group", "submit this task to
// whichever endpoint is ready", or "all endpoints that have gone
// dead" go through here instead of tracking *endpoint.Endpoint values
// themselves. Submit optionally consults a HealthChecker (D7) before
// trying a candidate.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
)

// HealthChecker is the narrow contract Submit consults before handing
// a task to a candidate endpoint, so the pool never has to import
// Redis (or anything else) directly — D3 consulting D7, per
// SPEC_FULL.md §4.9. *healthcache.Cache satisfies this.
type HealthChecker interface {
	IsDead(ctx context.Context, hostSpec string) (bool, time.Time)
}

// Pool is a registry of named endpoints, grouped for round-robin or
// fan-out selection (e.g. every endpoint in the "default" group talks
// to a redundant set of job servers for the same function set).
type Pool struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint.Endpoint // key: host spec string
	byGroup   map[string][]string           // key: group, value: []host spec string
	order     []string                      // insertion order across all groups, for round-robin
	rrIndex   int
	maxSize   int
	health    HealthChecker
}

// NewPool creates a Pool that refuses registrations past maxSize
// endpoints. maxSize <= 0 means unlimited.
func NewPool(maxSize int) *Pool {
	return &Pool{
		endpoints: make(map[string]*endpoint.Endpoint),
		byGroup:   make(map[string][]string),
		maxSize:   maxSize,
	}
}

// SetHealthChecker installs the collaborator Submit consults before
// trying a candidate endpoint. Passing nil disables the check (every
// Alive endpoint is tried).
func (p *Pool) SetHealthChecker(hc HealthChecker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = hc
}

// ErrPoolFull is returned by Register when maxSize would be exceeded.
var ErrPoolFull = fmt.Errorf("pool: maximum endpoints reached")

// ErrNoEndpoints is returned by Submit when the pool is empty or
// every endpoint was skipped as not Alive or reported dead by the
// HealthChecker. When a candidate was tried and failed, Submit returns
// that failure instead.
var ErrNoEndpoints = fmt.Errorf("pool: no endpoint accepted the task")

// Register adds ep to the pool under group, keyed by its HostSpec.
// Returns an error if that host is already registered or the pool is
// full.
func (p *Pool) Register(group string, ep *endpoint.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ep.HostSpec().String()
	if p.maxSize > 0 && len(p.endpoints) >= p.maxSize {
		return ErrPoolFull
	}
	if _, exists := p.endpoints[key]; exists {
		return fmt.Errorf("pool: %s already registered", key)
	}

	p.endpoints[key] = ep
	p.byGroup[group] = append(p.byGroup[group], key)
	p.order = append(p.order, key)
	return nil
}

// Unregister removes the endpoint for hostKey from the pool and from
// group, and shuts down its scheduler. Only the named group is
// updated; group should be the one the endpoint was registered under.
func (p *Pool) Unregister(group, hostKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, exists := p.endpoints[hostKey]
	if !exists {
		return fmt.Errorf("pool: %s not found", hostKey)
	}

	if keys, ok := p.byGroup[group]; ok {
		for i, k := range keys {
			if k == hostKey {
				p.byGroup[group] = append(keys[:i], keys[i+1:]...)
				break
			}
		}
		if len(p.byGroup[group]) == 0 {
			delete(p.byGroup, group)
		}
	}
	for i, k := range p.order {
		if k == hostKey {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	delete(p.endpoints, hostKey)
	ep.Shutdown()
	return nil
}

// Get retrieves the endpoint registered under hostKey.
func (p *Pool) Get(hostKey string) (*endpoint.Endpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ep, exists := p.endpoints[hostKey]
	return ep, exists
}

// GetGroup returns every endpoint currently registered under group.
func (p *Pool) GetGroup(group string) []*endpoint.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := p.byGroup[group]
	result := make([]*endpoint.Endpoint, 0, len(keys))
	for _, k := range keys {
		if ep, ok := p.endpoints[k]; ok {
			result = append(result, ep)
		}
	}
	return result
}

// DeadEndpoints returns the host keys of every registered endpoint
// whose Alive() currently reports false — candidates for a caller to
// reconnect or evict.
func (p *Pool) DeadEndpoints() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var dead []string
	for key, ep := range p.endpoints {
		if !ep.Alive() {
			dead = append(dead, key)
		}
	}
	return dead
}

// Count returns the total number of registered endpoints.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Stats summarizes the pool's current occupancy.
type Stats struct {
	TotalEndpoints int
	UniqueGroups   int
	MaxSize        int
}

// Stats returns a Stats snapshot.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		TotalEndpoints: len(p.endpoints),
		UniqueGroups:   len(p.byGroup),
		MaxSize:        p.maxSize,
	}
}

// RegisterFunction fans register_function out to every endpoint
// currently in the pool (§4.9), so a caller configures a worker
// function once on the pool facade instead of looping over endpoints
// itself. Returns the first error encountered, after attempting every
// endpoint.
func (p *Pool) RegisterFunction(name string, handler endpoint.WorkerFunc) error {
	p.mu.RLock()
	eps := make([]*endpoint.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mu.RUnlock()

	var firstErr error
	for _, ep := range eps {
		if err := ep.RegisterFunction(name, handler); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pool: RegisterFunction(%s) on %s: %w", name, ep.HostSpec().String(), err)
		}
	}
	return firstErr
}

// candidatesLocked returns every registered endpoint in round-robin
// order starting just after the last candidate list handed out, so
// repeated Submit calls spread load rather than always preferring the
// same first endpoint. Must be called with mu held (read or write).
func (p *Pool) candidatesLocked() []*endpoint.Endpoint {
	n := len(p.order)
	if n == 0 {
		return nil
	}
	start := p.rrIndex % n
	out := make([]*endpoint.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.endpoints[p.order[(start+i)%n]])
	}
	return out
}

// nextCandidatesAndAdvance snapshots the round-robin candidate order
// and the current HealthChecker, then rotates rrIndex so the next
// Submit call starts from a different endpoint.
func (p *Pool) nextCandidatesAndAdvance() ([]*endpoint.Endpoint, HealthChecker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candidates := p.candidatesLocked()
	if len(candidates) > 0 {
		p.rrIndex = (p.rrIndex + 1) % len(p.order)
	}
	return candidates, p.health
}

// Submit round-robins task across the pool's endpoints, skipping any
// that report Alive()==false or that the HealthChecker (if any) marks
// dead, and falling through to the next candidate whenever
// get_in_ready_state reports on_error (§4.9). If no candidate accepted
// the task, returns the error of the last candidate tried, or
// ErrNoEndpoints when none was tried.
//
// Submit is a free function, not a method, for the same reason as
// AddTask: Go methods cannot carry their own type parameters.
func Submit[U any, PU endpoint.TaskPtr[U]](p *Pool, task PU) error {
	candidates, health := p.nextCandidatesAndAdvance()
	if len(candidates) == 0 {
		return ErrNoEndpoints
	}

	ctx := context.Background()
	var lastErr error
	for _, ep := range candidates {
		if !ep.Alive() {
			continue
		}
		if health != nil {
			if dead, _ := health.IsDead(ctx, ep.HostSpec().String()); dead {
				continue
			}
		}

		result := make(chan error, 1)
		ep.GetInReadyState(
			func() { result <- endpoint.AddTask[U, PU](ep, task) },
			func() { result <- fmt.Errorf("pool: %s: failed to reach ready state", ep.HostSpec().String()) },
		)
		if err := <-result; err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return ErrNoEndpoints
}
