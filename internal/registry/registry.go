// Package registry owns the one live sync provider per document identity.
//
// Two providers attached to the same identity at once would both publish
// into one log while replaying each other, and the CRDT replica bookkeeping
// of the editor's document would be corrupted. The registry prevents that:
//
//   - Acquire returns the existing provider for an identity, or creates and
//     connects a new one.
//   - Release marks the entry as tearing down before it returns, then
//     compacts and disconnects in the background. The entry leaves the map
//     only once that finishes.
//   - Acquire on a tearing-down identity waits for the teardown to finish
//     before creating the next provider.
//
// The map is guarded by a mutex; each entry's teardown channel acts as a
// per-identity lock that Acquire waits on without holding the mutex.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/store"
)

// entry is the registry's record for one identity.
type entry struct {
	provider *provider.Provider

	// ready is closed when Connect has returned.
	ready chan struct{}

	// teardown is nil while the entry is live. Release sets it; it is
	// closed after Compact and Disconnect finish and the entry is removed.
	teardown chan struct{}
}

// Registry maps document identities to their live provider.
// A Registry is safe for concurrent use.
type Registry struct {
	store  provider.RecordStore
	opts   []provider.Option
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithProviderOptions passes opts to every provider the registry creates.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry whose providers persist into st.
func New(st provider.RecordStore, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the connected provider for identity, creating one bound
// to doc if none is live.
//
// If a provider for identity is live, it is returned as-is (doc is ignored)
// once its Connect has finished. If one is being released, Acquire waits for
// its compaction and disconnect to complete before connecting a new one.
//
// The only error is ctx.Err() when ctx ends while waiting. Store failures
// during Connect are absorbed by the provider. Connect itself is not
// cancelled by ctx: a half-loaded provider would stay registered.
func (r *Registry) Acquire(ctx context.Context, doc provider.Document, identity string) (*provider.Provider, error) {
	id := store.CanonicalID(identity)

	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			p := provider.New(doc, r.store, id, r.opts...)
			e = &entry{provider: p, ready: make(chan struct{})}
			r.entries[id] = e
			r.mu.Unlock()

			r.logger.Debug("provider created", "doc", id)
			p.Connect(context.WithoutCancel(ctx))
			close(e.ready)
			return p, nil
		}

		if e.teardown == nil {
			r.mu.Unlock()
			select {
			case <-e.ready:
				return e.provider, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		teardown := e.teardown
		r.mu.Unlock()

		r.logger.Debug("waiting for previous provider teardown", "doc", id)
		select {
		case <-teardown:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release starts tearing down the provider for identity: compact, then
// disconnect, then forget. It returns immediately. Unknown identities and
// identities already being released are ignored.
func (r *Registry) Release(identity string) {
	r.release(store.CanonicalID(identity))
}

// ReleaseAndWait is Release followed by waiting for the teardown to finish.
// It also waits for a teardown that was already in progress.
func (r *Registry) ReleaseAndWait(ctx context.Context, identity string) error {
	done := r.release(store.CanonicalID(identity))
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases every identity and waits for all teardowns.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var pending []<-chan struct{}
	for _, id := range ids {
		if done := r.release(id); done != nil {
			pending = append(pending, done)
		}
	}

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Len returns the number of live and tearing-down entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// release stamps the entry's teardown channel under the lock and starts the
// teardown goroutine. It returns the channel to wait on, or nil if there is
// no entry.
func (r *Registry) release(id string) <-chan struct{} {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if e.teardown != nil {
		done := e.teardown
		r.mu.Unlock()
		return done
	}
	done := make(chan struct{})
	e.teardown = done
	r.mu.Unlock()

	go r.teardown(id, e)
	return done
}

func (r *Registry) teardown(id string, e *entry) {
	// A release that races a first Acquire waits for Connect to finish.
	<-e.ready

	result := e.provider.Compact(context.Background())
	e.provider.Disconnect()

	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	close(e.teardown)

	r.logger.Debug("provider released", "doc", id,
		"compacted", !result.Skipped, "deleted", result.Deleted)
}
