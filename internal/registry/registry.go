package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned by Claim when no specification is registered under
// the requested call-setup identifier.
var ErrNotFound = errors.New("call specification not found")

// CallSpec holds the static parameters of one outbound call: who to call,
// what to communicate, and what context to answer questions from. Immutable
// once registered.
type CallSpec struct {
	Action       string `json:"action"`
	Context      string `json:"context"`
	CalleeName   string `json:"callee_name"`
	AgentName    string `json:"agent_name"`
	Organization string `json:"organization"`
}

// DefaultSpec returns the neutral specification used when a media stream
// arrives with an unregistered call-setup identifier. A dropped registration
// must not strand an already-ringing phone call.
func DefaultSpec() CallSpec {
	return CallSpec{
		Action:       "No action specified",
		Context:      "No context provided",
		CalleeName:   "there",
		AgentName:    "Alex",
		Organization: "our office",
	}
}

type entry struct {
	spec       CallSpec
	registered time.Time
}

// Registry maps call-setup identifiers to pending call specifications.
// Entries are written once before the call connects and claimed exactly once
// when the media stream starts; unclaimed entries are evicted after a TTL so
// calls that never connect do not accumulate.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry

	logger *slog.Logger
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a registry and starts its eviction routine.
func New(logger *slog.Logger, ttl time.Duration) *Registry {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		entries: make(map[string]entry),
		logger:  logger,
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.evictionRoutine()

	return r
}

// Register stores a specification under the given call-setup identifier.
// Overwriting an existing entry is treated as idempotent re-registration but
// logged, since it usually indicates a client retry bug.
func (r *Registry) Register(id string, spec CallSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		r.logger.Warn("Overwriting existing call registration",
			slog.String("call_setup_id", id),
		)
	}

	r.entries[id] = entry{spec: spec, registered: time.Now()}
}

// Claim looks up and removes the specification for the given identifier.
// A specification is consumed at most once.
func (r *Registry) Claim(id string) (CallSpec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[id]
	if !exists {
		return CallSpec{}, ErrNotFound
	}

	delete(r.entries, id)
	return e.spec, nil
}

// Len returns the number of pending registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Stop terminates the eviction routine.
func (r *Registry) Stop() {
	r.cancel()
	<-r.done
}

// evictionRoutine periodically removes registrations that were never claimed.
func (r *Registry) evictionRoutine() {
	defer close(r.done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired(time.Now())
		}
	}
}

// evictExpired removes all entries older than the TTL relative to now.
func (r *Registry) evictExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if now.Sub(e.registered) > r.ttl {
			r.logger.Info("Evicting unclaimed call registration",
				slog.String("call_setup_id", id),
				slog.Duration("age", now.Sub(e.registered)),
			)
			delete(r.entries, id)
		}
	}
}
