package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/store"
)

const (
	// DefaultCompactionThreshold is the number of update records that
	// triggers folding them into a snapshot.
	DefaultCompactionThreshold = 500

	// DefaultMaxUpdateBytes is the largest update payload that is published
	// or applied.
	DefaultMaxUpdateBytes = 500_000
)

// ErrPayloadTooLarge marks an update rejected by the size guard.
var ErrPayloadTooLarge = errors.New("update payload exceeds size cap")

// Document is the part of a CRDT document the provider uses.
// *crdt.Doc implements it.
type Document interface {
	Encode() []byte
	Apply(data []byte, origin crdt.Origin) error
	OnChange(fn crdt.Listener) crdt.ListenerID
	OffChange(id crdt.ListenerID)
}

// RecordStore is the persistence contract. *store.Store implements it.
type RecordStore interface {
	Append(ctx context.Context, docID string, kind store.Kind, payload []byte, createdAt time.Time, updateCount int) (store.Record, error)
	ReadOrdered(ctx context.Context, docID string, kind store.Kind) ([]store.Record, error)
	ReadLatest(ctx context.Context, docID string, kind store.Kind) (store.Record, bool, error)
	SubscribeAdded(docID string, kind store.Kind, fn func(store.Record)) (func(), error)
	BatchDelete(ctx context.Context, docID string, records []store.Record) (int, error)
}

// Config holds the provider's tunables.
type Config struct {
	// CompactionThreshold is the minimum number of update records before
	// Compact writes a snapshot.
	CompactionThreshold int

	// MaxUpdateBytes caps update payloads in both directions.
	MaxUpdateBytes int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CompactionThreshold: DefaultCompactionThreshold,
		MaxUpdateBytes:      DefaultMaxUpdateBytes,
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithConfig replaces the default Config. Non-positive fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(p *Provider) {
		if cfg.CompactionThreshold > 0 {
			p.cfg.CompactionThreshold = cfg.CompactionThreshold
		}
		if cfg.MaxUpdateBytes > 0 {
			p.cfg.MaxUpdateBytes = cfg.MaxUpdateBytes
		}
	}
}

// WithLogger sets the logger. The provider adds a "doc" attribute.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock sets the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithStateHook registers fn to observe state transitions. fn is called
// with the provider's lock held, in transition order; it must not call back
// into the provider.
func WithStateHook(fn func(docID string, s State)) Option {
	return func(p *Provider) {
		p.stateHook = fn
	}
}

// Stats are cumulative counters for one provider.
type Stats struct {
	Applied         int64
	Rejected        int64
	Published       int64
	PublishFailures int64
}

// Provider replicates one document through a RecordStore.
//
// A provider is single-use: Connect once, Disconnect once (extra calls are
// no-ops). Reconnecting means constructing a new Provider. No method returns
// a store error; failures are logged and absorbed.
type Provider struct {
	doc   Document
	store RecordStore
	docID string

	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	stateHook func(docID string, s State)

	mu          sync.Mutex
	state       State
	used        bool
	unsubscribe func()
	listener    crdt.ListenerID
	listening   bool

	applied         atomic.Int64
	rejected        atomic.Int64
	published       atomic.Int64
	publishFailures atomic.Int64
}

// New creates a disconnected provider for docID.
func New(doc Document, st RecordStore, docID string, opts ...Option) *Provider {
	p := &Provider{
		doc:    doc,
		store:  st,
		docID:  store.CanonicalID(docID),
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("doc", p.docID)
	return p
}

// DocID returns the canonical document identity.
func (p *Provider) DocID() string {
	return p.docID
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the provider's counters.
func (p *Provider) Stats() Stats {
	return Stats{
		Applied:         p.applied.Load(),
		Rejected:        p.rejected.Load(),
		Published:       p.published.Load(),
		PublishFailures: p.publishFailures.Load(),
	}
}

// setState must be called with p.mu held.
func (p *Provider) setState(s State) {
	if p.state == s {
		return
	}
	prev := p.state
	p.state = s
	switch {
	case s == StateConnected:
		metrics.ProvidersConnected.Inc()
	case prev == StateConnected:
		metrics.ProvidersConnected.Dec()
	}
	if p.stateHook != nil {
		p.stateHook(p.docID, s)
	}
}
