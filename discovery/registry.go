// Package discovery tracks where stage workers live. The orchestrator
// resolves worker URLs through a Registry; entries expire unless the worker
// heartbeats inside the TTL.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Esk3nder/promptdial-standalone-sub001/core"
)

// WorkerInfo describes one registered stage worker.
type WorkerInfo struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Healthy  bool      `json:"healthy"`
	LastSeen time.Time `json:"last_seen"`
}

// URL renders the worker's base endpoint.
func (w *WorkerInfo) URL() string {
	return fmt.Sprintf("http://%s:%d", w.Address, w.Port)
}

// Registry is the worker registration and lookup surface.
type Registry interface {
	Register(ctx context.Context, info *WorkerInfo) error
	Unregister(ctx context.Context, id string) error
	Heartbeat(ctx context.Context, id string) error
	Lookup(ctx context.Context, service string) ([]*WorkerInfo, error)
}

// MemoryRegistry is the in-process registry used when no Redis backend is
// configured. Entries past the TTL are dropped at lookup time.
type MemoryRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	workers map[string]*WorkerInfo
}

// NewMemoryRegistry creates a registry with the given TTL (default 30s).
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryRegistry{ttl: ttl, workers: make(map[string]*WorkerInfo)}
}

func (r *MemoryRegistry) Register(ctx context.Context, info *WorkerInfo) error {
	if info.ID == "" || info.Service == "" {
		return fmt.Errorf("worker registration needs id and service: %w", core.ErrInvalidConfiguration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *info
	stored.LastSeen = time.Now()
	r.workers[info.ID] = &stored
	return nil
}

func (r *MemoryRegistry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
	return nil
}

func (r *MemoryRegistry) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return fmt.Errorf("heartbeat for unknown worker %s: %w", id, core.ErrServiceUnavailable)
	}
	w.LastSeen = time.Now()
	return nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, service string) ([]*WorkerInfo, error) {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*WorkerInfo
	for _, w := range r.workers {
		if w.Service == service && w.LastSeen.After(cutoff) {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}
