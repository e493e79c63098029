package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// subscription delivers rows appended after it was created.
//
// Delivery runs on a dedicated goroutine that wakes on a coalescing signal
// (local appends) or on the poll ticker (appends from other processes), and
// reads everything past its high-water mark in id order.
type subscription struct {
	store *Store
	docID string
	kind  Kind
	fn    func(Record)

	lastID int64
	signal chan struct{} // buffered, size 1

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// SubscribeAdded calls fn for every record of kind appended to docID after
// this call returns. Pre-existing records are not delivered.
//
// fn runs on the subscription's own goroutine, one record at a time, in id
// order. Delivery is at-least-once from the caller's point of view: a record
// that is also returned by a concurrent ReadOrdered will be seen twice.
//
// The returned function unsubscribes; it is idempotent and returns once the
// delivery goroutine has exited, so fn is never called after it returns.
// It must not be called from inside fn.
func (s *Store) SubscribeAdded(docID string, kind Kind, fn func(Record)) (func(), error) {
	if _, err := kind.table(); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if s.isClosed() {
		return nil, fmt.Errorf("subscribe %s: %w", kind, ErrClosed)
	}
	docID = CanonicalID(docID)

	lastID, err := s.maxID(context.Background(), docID, kind)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", kind, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		store:  s,
		docID:  docID,
		kind:   kind,
		fn:     fn,
		lastID: lastID,
		signal: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", kind, ErrClosed)
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(ctx, s.pollInterval)

	return func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.stop()
	}, nil
}

// notify wakes local subscriptions interested in (docID, kind).
func (s *Store) notify(docID string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.docID != docID || sub.kind != kind {
			continue
		}
		// Non-blocking: a pending signal already covers this append
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (sub *subscription) run(ctx context.Context, interval time.Duration) {
	defer close(sub.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.signal:
		case <-ticker.C:
		}
		sub.drain(ctx)
	}
}

// drain delivers every row past the high-water mark.
func (sub *subscription) drain(ctx context.Context) {
	records, err := sub.store.readAfter(ctx, sub.docID, sub.kind, sub.lastID)
	if err != nil {
		if ctx.Err() == nil {
			sub.store.logger.Warn("subscription poll failed",
				"doc", sub.docID, "kind", string(sub.kind), "error", err)
		}
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		sub.lastID = rec.ID
		sub.fn(rec)
	}
}

// stop cancels delivery and waits for the goroutine to exit.
func (sub *subscription) stop() {
	sub.stopOnce.Do(sub.cancel)
	<-sub.done
}
