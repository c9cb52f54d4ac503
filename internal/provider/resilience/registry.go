package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// State summarises a provider's health for operators.
type State string

const (
	// StateOK means the breaker is closed and the last call succeeded.
	StateOK State = "ok"
	// StateDegraded means the breaker is probing, or closed with a failed last call.
	StateDegraded State = "degraded"
	// StateDown means the breaker is open and calls are rejected.
	StateDown State = "down"
)

// Health is a point-in-time view of one provider.
type Health struct {
	Name    string
	State   State
	Circuit gobreaker.State
	Counts  gobreaker.Counts

	LastSuccessAt    *time.Time
	LastFailureAt    *time.Time
	LastTransitionAt *time.Time
	LastError        string
}

// Registry tracks provider clients and the outcome of their calls.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*entry
	now       func() time.Time
}

type entry struct {
	client           *Client
	lastSuccessAt    *time.Time
	lastFailureAt    *time.Time
	lastTransitionAt *time.Time
	lastError        string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*entry),
		now:       time.Now,
	}
}

// Register adds a client under name, replacing any previous one.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &entry{client: client}
}

func (r *Registry) recordSuccess(name string) {
	r.update(name, func(e *entry, now time.Time) {
		e.lastSuccessAt = &now
	})
}

func (r *Registry) recordFailure(name string, err error) {
	r.update(name, func(e *entry, now time.Time) {
		e.lastFailureAt = &now
		if err != nil {
			e.lastError = err.Error()
		}
	})
}

func (r *Registry) recordTransition(name string) {
	r.update(name, func(e *entry, now time.Time) {
		e.lastTransitionAt = &now
	})
}

func (r *Registry) update(name string, fn func(e *entry, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.providers[name]; ok {
		fn(e, r.now())
	}
}

// Health returns the view of one provider.
func (r *Registry) Health(name string) (Health, bool) {
	r.mu.RLock()
	e, ok := r.providers[name]
	var snap entry
	if ok {
		snap = *e
	}
	r.mu.RUnlock()

	if !ok {
		return Health{}, false
	}
	return snap.health(name), true
}

// Snapshot returns every provider ordered by name.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	snaps := make(map[string]entry, len(r.providers))
	for name, e := range r.providers {
		snaps[name] = *e
	}
	r.mu.RUnlock()

	// Breaker state is read outside the lock; transitions record into the registry
	all := make([]Health, 0, len(snaps))
	for name, e := range snaps {
		all = append(all, e.health(name))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Names returns the registered provider names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e entry) health(name string) Health {
	h := Health{
		Name:             name,
		Circuit:          e.client.BreakerState(),
		Counts:           e.client.BreakerCounts(),
		LastSuccessAt:    e.lastSuccessAt,
		LastFailureAt:    e.lastFailureAt,
		LastTransitionAt: e.lastTransitionAt,
		LastError:        e.lastError,
	}

	switch h.Circuit {
	case gobreaker.StateOpen:
		h.State = StateDown
	case gobreaker.StateHalfOpen:
		h.State = StateDegraded
	default:
		h.State = StateOK
		if failedLast(e.lastSuccessAt, e.lastFailureAt) {
			h.State = StateDegraded
		}
	}
	return h
}

func failedLast(success, failure *time.Time) bool {
	if failure == nil {
		return false
	}
	return success == nil || failure.After(*success)
}
