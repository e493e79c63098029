package provider

import (
	"context"
	"errors"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/store"
)

// Connect loads stored state into the document and starts replicating.
//
//  1. Subscribe to update records appended from now on.
//  2. Apply the latest snapshot, if any.
//  3. Apply every update record, oldest first.
//  4. Listen for document changes and publish the Local ones.
//
// The subscription starts before the history read, so every update is seen
// at least once and some may be applied twice. Applying a CRDT delta twice
// is a no-op, so nothing is deduplicated here. If another session compacted
// between steps 2 and 3, the newer snapshot holds the updates it deleted and
// is applied as well.
//
// Store failures are logged: a failed read counts as "no records" and a
// failed subscription leaves the provider connected without realtime
// delivery. Calls on a provider that is already connecting or connected do
// nothing, and a provider that has been disconnected cannot be reused.
func (p *Provider) Connect(ctx context.Context) {
	p.mu.Lock()
	if p.state != StateDisconnected {
		p.mu.Unlock()
		return
	}
	if p.used {
		p.mu.Unlock()
		p.logger.Warn("connect on a used provider ignored")
		return
	}
	p.used = true
	p.setState(StateConnecting)
	p.mu.Unlock()

	p.logger.Debug("connecting")

	unsubscribe, err := p.store.SubscribeAdded(p.docID, store.KindUpdate, func(rec store.Record) {
		p.applyRecord(rec, "realtime")
	})
	if err != nil {
		p.logger.Warn("subscribe failed; remote changes arrive only on reconnect", "error", err)
		unsubscribe = nil
	}

	snapshot, ok, err := p.store.ReadLatest(ctx, p.docID, store.KindSnapshot)
	switch {
	case err != nil:
		p.logger.Warn("read snapshot failed", "error", err)
	case ok:
		p.applyRecord(snapshot, "snapshot")
	}

	updates, err := p.store.ReadOrdered(ctx, p.docID, store.KindUpdate)
	if err != nil {
		p.logger.Warn("read updates failed", "error", err)
	}
	for _, rec := range updates {
		p.applyRecord(rec, "history")
	}

	latest, found, err := p.store.ReadLatest(ctx, p.docID, store.KindSnapshot)
	if err == nil && found && (!ok || latest.ID != snapshot.ID) {
		p.applyRecord(latest, "snapshot")
		ok = true
	}

	listener := p.doc.OnChange(p.onChange)

	p.mu.Lock()
	if p.state != StateConnecting {
		// Disconnect ran while we were loading.
		p.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		p.doc.OffChange(listener)
		return
	}
	p.unsubscribe = unsubscribe
	p.listener = listener
	p.listening = true
	p.setState(StateConnected)
	p.mu.Unlock()

	p.logger.Info("connected", "snapshot", ok, "updates", len(updates))
}

// Disconnect stops realtime delivery and change publishing.
// Idempotent: extra calls and calls on a never-connected provider are no-ops.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	if p.state == StateDisconnected {
		p.used = true
		p.mu.Unlock()
		return
	}
	unsubscribe := p.unsubscribe
	listener, listening := p.listener, p.listening
	p.unsubscribe = nil
	p.listening = false
	p.setState(StateDisconnected)
	p.mu.Unlock()

	// Outside the lock: unsubscribe waits for an in-flight delivery.
	if unsubscribe != nil {
		unsubscribe()
	}
	if listening {
		p.doc.OffChange(listener)
	}

	p.logger.Info("disconnected")
}

// onChange publishes Local changes as new update records.
// Remote changes are ones this provider applied itself; publishing them
// again would echo them back to every session.
func (p *Provider) onChange(delta []byte, origin crdt.Origin) {
	if origin == crdt.Remote {
		return
	}

	if len(delta) > p.cfg.MaxUpdateBytes {
		p.publishFailures.Add(1)
		metrics.UpdatesPublished.WithLabelValues("oversized").Inc()
		p.logger.Warn("local update not published",
			"error", ErrPayloadTooLarge, "bytes", len(delta), "max", p.cfg.MaxUpdateBytes)
		return
	}

	rec, err := p.store.Append(context.Background(), p.docID, store.KindUpdate, delta, p.now(), 0)
	if err != nil {
		// No retry queue: the change stays in the live document only.
		p.publishFailures.Add(1)
		metrics.UpdatesPublished.WithLabelValues("failed").Inc()
		p.logger.Warn("publish update failed", "error", err, "bytes", len(delta))
		return
	}

	p.published.Add(1)
	metrics.UpdatesPublished.WithLabelValues("ok").Inc()
	p.logger.Debug("published update", "id", rec.ID, "bytes", len(delta))
}

// applyRecord merges one stored record into the document with origin Remote.
// Update records over the size cap and undecodable payloads are skipped.
func (p *Provider) applyRecord(rec store.Record, source string) {
	if rec.Kind == store.KindUpdate && len(rec.Payload) > p.cfg.MaxUpdateBytes {
		p.rejected.Add(1)
		metrics.UpdatesRejected.WithLabelValues("oversized").Inc()
		p.logger.Warn("skipping update",
			"error", ErrPayloadTooLarge, "id", rec.ID, "bytes", len(rec.Payload), "max", p.cfg.MaxUpdateBytes)
		return
	}

	if err := p.doc.Apply(rec.Payload, crdt.Remote); err != nil {
		p.rejected.Add(1)
		reason := "malformed"
		if !errors.Is(err, crdt.ErrMalformedUpdate) {
			reason = "apply_failed"
		}
		metrics.UpdatesRejected.WithLabelValues(reason).Inc()
		p.logger.Warn("skipping record", "kind", string(rec.Kind), "id", rec.ID, "error", err)
		return
	}

	p.applied.Add(1)
	metrics.UpdatesApplied.WithLabelValues(source).Inc()
	p.logger.Debug("applied record", "kind", string(rec.Kind), "id", rec.ID, "source", source)
}
