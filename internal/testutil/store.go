package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/docsync/internal/store"
)

// ErrInjected is returned by FaultStore operations that were told to fail.
var ErrInjected = errors.New("injected failure")

// RecordStore mirrors provider.RecordStore so this package does not import
// the packages it helps test.
type RecordStore interface {
	Append(ctx context.Context, docID string, kind store.Kind, payload []byte, createdAt time.Time, updateCount int) (store.Record, error)
	ReadOrdered(ctx context.Context, docID string, kind store.Kind) ([]store.Record, error)
	ReadLatest(ctx context.Context, docID string, kind store.Kind) (store.Record, bool, error)
	SubscribeAdded(docID string, kind store.Kind, fn func(store.Record)) (func(), error)
	BatchDelete(ctx context.Context, docID string, records []store.Record) (int, error)
}

// OpenStore opens a SQLite store in a temp directory and closes it when
// the test ends.
func OpenStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docsync.db")
	opts = append([]store.Option{store.WithPollInterval(10 * time.Millisecond)}, opts...)
	s, err := store.Open(path, opts...)
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// FaultStore wraps a RecordStore with switchable failures, hooks, and
// call counters.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FaultStore struct {
	inner RecordStore

	mu          sync.Mutex
	failReads   bool
	failAppend  map[store.Kind]bool
	failDelete  bool
	failSub     bool
	beforeRead  func(kind store.Kind)
	appends     map[store.Kind]int
	activeSubs  int
	totalSubs   int
	deleteCalls int
}

// NewFaultStore wraps inner. With no failures set it behaves like inner.
func NewFaultStore(inner RecordStore) *FaultStore {
	return &FaultStore{
		inner:      inner,
		failAppend: make(map[store.Kind]bool),
		appends:    make(map[store.Kind]int),
	}
}

// FailReads makes ReadOrdered and ReadLatest fail.
func (f *FaultStore) FailReads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = fail
}

// FailAppend makes Append of kind fail.
func (f *FaultStore) FailAppend(kind store.Kind, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppend[kind] = fail
}

// FailDelete makes BatchDelete fail without deleting anything.
func (f *FaultStore) FailDelete(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete = fail
}

// FailSubscribe makes SubscribeAdded fail.
func (f *FaultStore) FailSubscribe(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSub = fail
}

// BeforeRead installs fn to run at the start of every ReadOrdered call,
// outside the wrapper's lock. Use it to slow down or block readers.
func (f *FaultStore) BeforeRead(fn func(kind store.Kind)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeRead = fn
}

// Appends returns the number of successful appends of kind.
func (f *FaultStore) Appends(kind store.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends[kind]
}

// ActiveSubscriptions returns subscriptions taken and not yet cancelled.
func (f *FaultStore) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeSubs
}

// TotalSubscriptions returns every successful SubscribeAdded call.
func (f *FaultStore) TotalSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalSubs
}

// DeleteCalls returns the number of BatchDelete calls.
func (f *FaultStore) DeleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

func (f *FaultStore) Append(ctx context.Context, docID string, kind store.Kind, payload []byte, createdAt time.Time, updateCount int) (store.Record, error) {
	f.mu.Lock()
	fail := f.failAppend[kind]
	f.mu.Unlock()
	if fail {
		return store.Record{}, ErrInjected
	}

	rec, err := f.inner.Append(ctx, docID, kind, payload, createdAt, updateCount)
	if err == nil {
		f.mu.Lock()
		f.appends[kind]++
		f.mu.Unlock()
	}
	return rec, err
}

func (f *FaultStore) ReadOrdered(ctx context.Context, docID string, kind store.Kind) ([]store.Record, error) {
	f.mu.Lock()
	fail, hook := f.failReads, f.beforeRead
	f.mu.Unlock()
	if hook != nil {
		hook(kind)
	}
	if fail {
		return nil, ErrInjected
	}
	return f.inner.ReadOrdered(ctx, docID, kind)
}

func (f *FaultStore) ReadLatest(ctx context.Context, docID string, kind store.Kind) (store.Record, bool, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return store.Record{}, false, ErrInjected
	}
	return f.inner.ReadLatest(ctx, docID, kind)
}

func (f *FaultStore) SubscribeAdded(docID string, kind store.Kind, fn func(store.Record)) (func(), error) {
	f.mu.Lock()
	fail := f.failSub
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}

	unsubscribe, err := f.inner.SubscribeAdded(docID, kind, fn)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.activeSubs++
	f.totalSubs++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			f.mu.Lock()
			f.activeSubs--
			f.mu.Unlock()
		})
	}, nil
}

func (f *FaultStore) BatchDelete(ctx context.Context, docID string, records []store.Record) (int, error) {
	f.mu.Lock()
	f.deleteCalls++
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return 0, ErrInjected
	}
	return f.inner.BatchDelete(ctx, docID, records)
}
