package provider

import (
	"context"

	"github.com/roach88/docsync/internal/crdt"
	"github.com/roach88/docsync/internal/metrics"
	"github.com/roach88/docsync/internal/store"
)

// CompactResult describes one compaction attempt.
type CompactResult struct {
	// Skipped is true when there were fewer updates than the threshold
	// or the attempt failed before writing a snapshot.
	Skipped bool

	// Counted is the number of update records read in the first step.
	Counted int

	// SnapshotID is the id of the written snapshot, or 0.
	SnapshotID int64

	// Deleted is the number of update records removed.
	Deleted int
}

// Compact folds the update log into a snapshot when it has grown past the
// threshold.
//
// The snapshot is written before anything is deleted, and only the update
// records counted at the start are deleted, so a failure at any step leaves
// a log that still reproduces the document. Failures are logged and the
// next attempt starts over.
//
// The latest snapshot and the counted records are applied to the document
// (idempotently) before the state is encoded. A record written by another
// session may not have reached this document through the subscription yet,
// and deleting it without folding it into the snapshot would lose it.
// This also lets Compact run on a provider that was never connected.
func (p *Provider) Compact(ctx context.Context) CompactResult {
	updates, err := p.store.ReadOrdered(ctx, p.docID, store.KindUpdate)
	if err != nil {
		metrics.Compactions.WithLabelValues("failed").Inc()
		p.logger.Warn("compaction aborted: read updates", "error", err)
		return CompactResult{Skipped: true}
	}

	result := CompactResult{Counted: len(updates)}
	if len(updates) < p.cfg.CompactionThreshold {
		result.Skipped = true
		metrics.Compactions.WithLabelValues("skipped").Inc()
		p.logger.Debug("compaction skipped", "updates", len(updates), "threshold", p.cfg.CompactionThreshold)
		return result
	}

	previous, ok, err := p.store.ReadLatest(ctx, p.docID, store.KindSnapshot)
	if err != nil {
		result.Skipped = true
		metrics.Compactions.WithLabelValues("failed").Inc()
		p.logger.Warn("compaction aborted: read snapshot", "error", err)
		return result
	}
	if ok {
		if err := p.doc.Apply(previous.Payload, crdt.Remote); err != nil {
			p.logger.Debug("compaction: unreadable snapshot left out", "id", previous.ID, "error", err)
		}
	}

	for _, rec := range updates {
		if len(rec.Payload) > p.cfg.MaxUpdateBytes {
			continue
		}
		if err := p.doc.Apply(rec.Payload, crdt.Remote); err != nil {
			p.logger.Debug("compaction: unreadable update left out of snapshot", "id", rec.ID, "error", err)
		}
	}

	snapshot, err := p.store.Append(ctx, p.docID, store.KindSnapshot, p.doc.Encode(), p.now(), len(updates))
	if err != nil {
		result.Skipped = true
		metrics.Compactions.WithLabelValues("failed").Inc()
		p.logger.Warn("compaction aborted: write snapshot", "error", err)
		return result
	}
	result.SnapshotID = snapshot.ID

	deleted, err := p.store.BatchDelete(ctx, p.docID, updates)
	result.Deleted = deleted
	metrics.CompactionDeleted.Add(float64(deleted))
	if err != nil {
		metrics.Compactions.WithLabelValues("partial").Inc()
		p.logger.Warn("compaction incomplete: delete updates",
			"error", err, "deleted", deleted, "counted", len(updates))
		return result
	}

	metrics.Compactions.WithLabelValues("compacted").Inc()
	p.logger.Info("compacted", "snapshot", snapshot.ID, "updates", len(updates))
	return result
}
