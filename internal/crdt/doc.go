// Package crdt implements a small state-based CRDT document: a
// last-writer-wins map from string keys to string values.
//
// The sync engine treats documents as opaque. It only needs to encode the
// full state, apply a delta with an origin tag, and listen for changes.
// This package is the reference implementation of that contract used by the
// CLI and by tests.
//
// Merge rule: every entry carries a stamp (Lamport counter, replica ID).
// The entry with the greater stamp wins, comparing counters first and
// replica IDs second. Stamps are totally ordered, so merge is commutative,
// associative, and idempotent. Deletes are tombstones that win or lose by
// the same rule.
package crdt

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedUpdate is returned by Apply when a payload cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed update")

// wireVersion is written into every encoded payload.
const wireVersion = 1

// Origin says who produced a change.
type Origin int

const (
	// Local changes were made through this process's editor.
	Local Origin = iota + 1
	// Remote changes were replayed from storage by a sync provider.
	Remote
)

// String returns "local" or "remote".
func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

// Stamp orders concurrent writes to the same key.
type Stamp struct {
	Counter uint64 `msgpack:"c"`
	Replica string `msgpack:"r"`
}

// Less reports whether s loses to other.
func (s Stamp) Less(other Stamp) bool {
	if s.Counter != other.Counter {
		return s.Counter < other.Counter
	}
	return s.Replica < other.Replica
}

// Entry is the state of one key.
type Entry struct {
	Key     string `msgpack:"k"`
	Value   string `msgpack:"v,omitempty"`
	Deleted bool   `msgpack:"d,omitempty"`
	Stamp   Stamp  `msgpack:"s"`
}

// payload is the wire form of both deltas and full states.
type payload struct {
	Version int     `msgpack:"ver"`
	Entries []Entry `msgpack:"e"`
}

// Listener receives every change applied to a document. delta is an encoded
// payload that reproduces the change when applied elsewhere.
type Listener func(delta []byte, origin Origin)

// ListenerID identifies a registered Listener for OffChange.
type ListenerID uint64

// Doc is a replicated LWW map. All methods are safe for concurrent use.
// Listeners are called outside the document lock, on the goroutine that
// made the change.
type Doc struct {
	replica string
	clock   *Clock

	mu      sync.RWMutex
	entries map[string]Entry

	lmu       sync.Mutex
	listeners map[ListenerID]Listener
	nextID    ListenerID
}

// New creates an empty document with a fresh UUIDv7 replica ID.
func New() *Doc {
	return NewWithReplica(uuid.Must(uuid.NewV7()).String())
}

// NewWithReplica creates an empty document with a fixed replica ID.
// Used by tests that need deterministic stamps.
func NewWithReplica(replica string) *Doc {
	return &Doc{
		replica:   replica,
		clock:     NewClock(),
		entries:   make(map[string]Entry),
		listeners: make(map[ListenerID]Listener),
	}
}

// ReplicaID returns the identity stamped on local writes.
func (d *Doc) ReplicaID() string {
	return d.replica
}

// Set writes key=value locally and notifies listeners with origin Local.
func (d *Doc) Set(key, value string) error {
	return d.local(Entry{Key: key, Value: value})
}

// Delete tombstones key locally and notifies listeners with origin Local.
func (d *Doc) Delete(key string) error {
	return d.local(Entry{Key: key, Deleted: true})
}

func (d *Doc) local(e Entry) error {
	if e.Key == "" {
		return errors.New("empty key")
	}

	d.mu.Lock()
	e.Stamp = Stamp{Counter: d.clock.Next(), Replica: d.replica}
	d.entries[e.Key] = e
	d.mu.Unlock()

	delta, err := encode([]Entry{e})
	if err != nil {
		return err
	}
	d.emit(delta, Local)
	return nil
}

// Get returns the live value of key.
func (d *Doc) Get(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[key]
	if !ok || e.Deleted {
		return "", false
	}
	return e.Value, true
}

// Values returns all live keys and values.
func (d *Doc) Values() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.entries))
	for k, e := range d.entries {
		if !e.Deleted {
			out[k] = e.Value
		}
	}
	return out
}

// Encode returns the full document state, tombstones included.
// Equal states always encode to equal bytes.
func (d *Doc) Encode() []byte {
	d.mu.RLock()
	entries := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	b, err := encode(entries)
	if err != nil {
		// Entries are plain structs; msgpack cannot fail on them.
		panic(fmt.Sprintf("crdt: encode state: %v", err))
	}
	return b
}

// Apply merges an encoded delta or full state into the document.
//
// Listeners are notified with the same payload and origin, but only when at
// least one entry actually changed, so re-applying a payload is silent.
func (d *Doc) Apply(data []byte, origin Origin) error {
	entries, err := Decode(data)
	if err != nil {
		return err
	}

	changed := false
	d.mu.Lock()
	for _, e := range entries {
		d.clock.Observe(e.Stamp.Counter)
		cur, ok := d.entries[e.Key]
		if ok && !cur.Stamp.Less(e.Stamp) {
			continue
		}
		d.entries[e.Key] = e
		changed = true
	}
	d.mu.Unlock()

	if changed {
		d.emit(data, origin)
	}
	return nil
}

// OnChange registers fn and returns an ID for OffChange.
func (d *Doc) OnChange(fn Listener) ListenerID {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	d.nextID++
	d.listeners[d.nextID] = fn
	return d.nextID
}

// OffChange removes a listener. Unknown IDs are ignored.
func (d *Doc) OffChange(id ListenerID) {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	delete(d.listeners, id)
}

func (d *Doc) emit(delta []byte, origin Origin) {
	d.lmu.Lock()
	ids := make([]ListenerID, 0, len(d.listeners))
	for id := range d.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, d.listeners[id])
	}
	d.lmu.Unlock()

	for _, fn := range fns {
		fn(delta, origin)
	}
}

// Decode returns the entries carried by an encoded delta or state, in
// payload order. Payloads produced by this package are sorted by key.
func Decode(data []byte) ([]Entry, error) {
	var p payload
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if p.Version != wireVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedUpdate, p.Version)
	}
	for _, e := range p.Entries {
		if e.Key == "" || e.Stamp.Replica == "" {
			return nil, fmt.Errorf("%w: entry without key or replica", ErrMalformedUpdate)
		}
	}
	return p.Entries, nil
}

func encode(entries []Entry) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	b, err := msgpack.Marshal(&payload{Version: wireVersion, Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}
