package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// collector gathers delivered records for assertions from the test goroutine.
type collector struct {
	mu      sync.Mutex
	records []Record
}

func (c *collector) add(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *collector) snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

// waitFor polls until c holds n records or the deadline passes.
func (c *collector) waitFor(t *testing.T, n int) []Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := c.snapshot()
	t.Fatalf("received %d records, want %d", len(got), n)
	return got
}

func TestSubscribeAdded_OnlyNewRecords(t *testing.T) {
	s := createTestStore(t, WithPollInterval(10*time.Millisecond))
	appendUpdates(t, s, "doc-1", 3)

	var c collector
	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}
	defer unsubscribe()

	fresh, err := s.Append(context.Background(), "doc-1", KindUpdate, []byte("new"), t0, 0)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	c.waitFor(t, 1)
	// give a stray redelivery a chance to show up
	time.Sleep(30 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Errorf("delivered %+v, want only record %d", got, fresh.ID)
	}
}

func TestSubscribeAdded_IDOrder(t *testing.T) {
	s := createTestStore(t, WithPollInterval(10*time.Millisecond))

	var c collector
	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}
	defer unsubscribe()

	records := appendUpdates(t, s, "doc-1", 5)
	got := c.waitFor(t, 5)
	for i := range records {
		if got[i].ID != records[i].ID {
			t.Errorf("delivery[%d] = %d, want %d", i, got[i].ID, records[i].ID)
		}
	}
}

func TestSubscribeAdded_FiltersDocAndKind(t *testing.T) {
	s := createTestStore(t, WithPollInterval(10*time.Millisecond))

	var c collector
	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}
	defer unsubscribe()

	appendUpdates(t, s, "doc-2", 2)
	if _, err := s.Append(context.Background(), "doc-1", KindSnapshot, []byte("s"), t0, 0); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	want, err := s.Append(context.Background(), "doc-1", KindUpdate, []byte("u"), t0, 0)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	c.waitFor(t, 1)
	time.Sleep(30 * time.Millisecond)
	got := c.snapshot()
	if len(got) != 1 || got[0].ID != want.ID {
		t.Errorf("delivered %+v, want only record %d", got, want.ID)
	}
}

func TestSubscribeAdded_Unsubscribe(t *testing.T) {
	s := createTestStore(t, WithPollInterval(10*time.Millisecond))

	var c collector
	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}

	appendUpdates(t, s, "doc-1", 1)
	c.waitFor(t, 1)

	unsubscribe()
	unsubscribe() // idempotent

	appendUpdates(t, s, "doc-1", 2)
	time.Sleep(30 * time.Millisecond)
	if got := c.snapshot(); len(got) != 1 {
		t.Errorf("received %d records after unsubscribe, want 1", len(got))
	}
}

func TestSubscribeAdded_OtherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	reader, err := Open(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer reader.Close()

	writer, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer writer.Close()

	var c collector
	unsubscribe, err := reader.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}
	defer unsubscribe()

	// No local notify reaches reader; only its poll can find this row.
	rec, err := writer.Append(context.Background(), "doc-1", KindUpdate, []byte("remote"), t0, 0)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	got := c.waitFor(t, 1)
	if got[0].ID != rec.ID || string(got[0].Payload) != "remote" {
		t.Errorf("delivered %+v, want record %d", got[0], rec.ID)
	}
}

func TestSubscribeAdded_CloseStopsDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	var c collector
	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	// Unsubscribing after Close must not block or panic.
	unsubscribe()

	_, err = s.SubscribeAdded("doc-1", KindUpdate, c.add)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("SubscribeAdded() on closed store: err = %v, want ErrClosed", err)
	}
}

func TestSubscribeAdded_UnknownKind(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.SubscribeAdded("doc-1", Kind("other"), func(Record) {}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

// lockedBuffer is a log sink shared by the delivery goroutine and the test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSubscribeAdded_PollFailureUsesStoreLogger(t *testing.T) {
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	s := createTestStore(t, WithPollInterval(10*time.Millisecond), WithLogger(logger))

	unsubscribe, err := s.SubscribeAdded("doc-1", KindUpdate, func(Record) {})
	if err != nil {
		t.Fatalf("SubscribeAdded() failed: %v", err)
	}
	defer unsubscribe()

	if _, err := s.db.Exec("DROP TABLE updates"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "subscription poll failed") {
		if time.Now().After(deadline) {
			t.Fatalf("poll failure not logged to the store logger; got %q", logs.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(logs.String(), "doc=doc-1") {
		t.Errorf("log line missing doc attribute: %q", logs.String())
	}
}
