package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/provider"
	"github.com/roach88/docsync/internal/registry"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/testutil"
)

// SyncTimeout bounds how long a sync step waits for sessions to converge.
var SyncTimeout = 5 * time.Second

// pollInterval is the store poll interval of every session.
const pollInterval = 5 * time.Millisecond

// session is one simulated process: its own store connection and registry.
type session struct {
	name     string
	store    *store.Store
	registry *registry.Registry
	doc      *crdt.Doc
	provider *provider.Provider
}

func (s *session) open() bool {
	return s.provider != nil
}

// Harness executes one scenario.
type Harness struct {
	scenario *Scenario
	dbPath   string
	clock    *testutil.DeterministicClock
	logger   *slog.Logger
	sessions map[string]*session
}

// Run executes a scenario against a fresh database and returns the result.
//
// Step failures are recorded in the result and stop execution; an error is
// returned only when the harness itself cannot run (no temp dir, database
// cannot be opened).
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "docsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		dbPath:   filepath.Join(dir, "scenario.db"),
		clock:    testutil.NewDeterministicClock(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		sessions: make(map[string]*session),
	}
	defer h.closeAll()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			if h.fatal(err) {
				return nil, err
			}
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Action(), err))
			return result, nil
		}
	}

	for name, s := range h.sessions {
		if s.open() {
			result.Values[name] = s.doc.Values()
		}
	}
	if err := h.countRecords(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// harnessError marks failures of the harness rather than of the scenario.
type harnessError struct{ err error }

func (e *harnessError) Error() string { return e.err.Error() }
func (e *harnessError) Unwrap() error { return e.err }

func (h *Harness) fatal(err error) bool {
	var he *harnessError
	return errors.As(err, &he)
}

func (h *Harness) providerOptions() []provider.Option {
	return []provider.Option{
		provider.WithConfig(provider.Config{
			CompactionThreshold: h.scenario.CompactionThreshold,
			MaxUpdateBytes:      h.scenario.MaxUpdateBytes,
		}),
		provider.WithLogger(h.logger),
		provider.WithClock(h.clock.Now),
	}
}

// session returns the named session, opening its store on first use.
func (h *Harness) session(name string) (*session, error) {
	if s, ok := h.sessions[name]; ok {
		return s, nil
	}
	st, err := store.Open(h.dbPath, store.WithPollInterval(pollInterval), store.WithLogger(h.logger))
	if err != nil {
		return nil, &harnessError{fmt.Errorf("open store for %s: %w", name, err)}
	}
	s := &session{
		name:  name,
		store: st,
		registry: registry.New(st,
			registry.WithLogger(h.logger),
			registry.WithProviderOptions(h.providerOptions()...)),
	}
	h.sessions[name] = s
	return s, nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	action := step.Action()
	if action == ActionSync {
		if err := h.waitConverged(); err != nil {
			return err
		}
		result.addTrace(TraceEvent{Action: ActionSync})
		return nil
	}

	s, err := h.session(step.Session)
	if err != nil {
		return err
	}

	switch action {
	case ActionOpen:
		if s.open() {
			return fmt.Errorf("session %s is already open", s.name)
		}
		// The replica ID is the session name so encoded state is stable.
		s.doc = crdt.NewWithReplica(s.name)
		p, err := s.registry.Acquire(ctx, s.doc, h.scenario.Doc)
		if err != nil {
			return err
		}
		s.provider = p
		result.addTrace(TraceEvent{Session: s.name, Action: ActionOpen})

	case ActionSet:
		if !s.open() {
			return fmt.Errorf("session %s is not open", s.name)
		}
		keys := sortedKeys(step.Set)
		for _, k := range keys {
			if err := s.doc.Set(k, step.Set[k]); err != nil {
				return err
			}
		}
		result.addTrace(TraceEvent{Session: s.name, Action: ActionSet, Keys: keys})

	case ActionDelete:
		if !s.open() {
			return fmt.Errorf("session %s is not open", s.name)
		}
		for _, k := range step.Delete {
			if err := s.doc.Delete(k); err != nil {
				return err
			}
		}
		result.addTrace(TraceEvent{Session: s.name, Action: ActionDelete, Keys: step.Delete})

	case ActionRelease:
		if !s.open() {
			return fmt.Errorf("session %s is not open", s.name)
		}
		before, err := s.store.Count(ctx, h.scenario.Doc, store.KindSnapshot)
		if err != nil {
			return &harnessError{err}
		}
		if err := s.registry.ReleaseAndWait(ctx, h.scenario.Doc); err != nil {
			return err
		}
		after, err := s.store.Count(ctx, h.scenario.Doc, store.KindSnapshot)
		if err != nil {
			return &harnessError{err}
		}
		s.doc, s.provider = nil, nil
		result.addTrace(TraceEvent{Session: s.name, Action: ActionRelease, Compacted: after > before})

	case ActionCompact:
		if !s.open() {
			return fmt.Errorf("session %s is not open", s.name)
		}
		r := s.provider.Compact(ctx)
		result.addTrace(TraceEvent{Session: s.name, Action: ActionCompact, Compacted: !r.Skipped, Counted: r.Counted})
	}
	return nil
}

// waitConverged blocks until every open session encodes the same state.
func (h *Harness) waitConverged() error {
	deadline := time.Now().Add(SyncTimeout)
	for {
		if h.converged() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sessions did not converge within %v", SyncTimeout)
		}
		time.Sleep(pollInterval)
	}
}

func (h *Harness) converged() bool {
	var want []byte
	for _, s := range h.sessions {
		if !s.open() {
			continue
		}
		got := s.doc.Encode()
		if want == nil {
			want = got
			continue
		}
		if !bytes.Equal(want, got) {
			return false
		}
	}
	return true
}

// readValues loads the document with a fresh, never-published provider on
// its own store connection.
func (h *Harness) readValues(ctx context.Context) (map[string]string, error) {
	st, err := store.Open(h.dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	doc := crdt.NewWithReplica("reader")
	p := provider.New(doc, st, h.scenario.Doc, h.providerOptions()...)
	p.Connect(ctx)
	p.Disconnect()
	return doc.Values(), nil
}

func (h *Harness) countRecords(ctx context.Context, result *Result) error {
	st, err := store.Open(h.dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	for _, kind := range []store.Kind{store.KindUpdate, store.KindSnapshot} {
		n, err := st.Count(ctx, h.scenario.Doc, kind)
		if err != nil {
			return fmt.Errorf("count %s: %w", kind, err)
		}
		result.Records[string(kind)] = n
	}
	return nil
}

// closeAll releases every open session without waiting on a deadline and
// closes the stores.
func (h *Harness) closeAll() {
	for _, s := range h.sessions {
		_ = s.registry.Close(context.Background())
		_ = s.store.Close()
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
