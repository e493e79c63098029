package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Append inserts one immutable record and returns it with its store-assigned ID.
//
// updateCount is persisted for snapshots only and ignored for updates.
// Subscribers of the same (docID, kind) in this process are woken immediately;
// subscribers in other processes see the row on their next poll.
func (s *Store) Append(ctx context.Context, docID string, kind Kind, payload []byte, createdAt time.Time, updateCount int) (Record, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return Record{}, fmt.Errorf("append %s: %w", kind, err)
	}
	docID = CanonicalID(docID)

	var (
		id  int64
		err error
	)
	switch kind {
	case KindUpdate:
		id, err = s.insert(ctx, `
			INSERT INTO updates (doc_id, payload, created_at)
			VALUES (?, ?, ?)
		`, docID, payload, createdAt.UnixNano())
		updateCount = 0
	case KindSnapshot:
		id, err = s.insert(ctx, `
			INSERT INTO snapshots (doc_id, payload, created_at, update_count)
			VALUES (?, ?, ?, ?)
		`, docID, payload, createdAt.UnixNano(), updateCount)
	default:
		_, err = kind.table()
	}
	if err != nil {
		return Record{}, fmt.Errorf("append %s: %w", kind, err)
	}

	s.notify(docID, kind)

	return Record{
		ID:          id,
		DocID:       docID,
		Kind:        kind,
		Payload:     payload,
		CreatedAt:   time.Unix(0, createdAt.UnixNano()),
		UpdateCount: updateCount,
	}, nil
}

func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// BatchDelete removes the given records of one document, chunked so that no
// single transaction deletes more than the configured batch size.
//
// Records belonging to another document are ignored. On failure the rows of
// already committed chunks stay deleted and deleted reports how many; the
// remaining rows are left in place for a later attempt.
func (s *Store) BatchDelete(ctx context.Context, docID string, records []Record) (deleted int, err error) {
	if err := s.ensureOpen(ctx); err != nil {
		return 0, fmt.Errorf("batch delete: %w", err)
	}
	docID = CanonicalID(docID)

	byKind := map[Kind][]int64{}
	var kinds []Kind
	for _, rec := range records {
		if CanonicalID(rec.DocID) != docID {
			continue
		}
		if _, ok := byKind[rec.Kind]; !ok {
			kinds = append(kinds, rec.Kind)
		}
		byKind[rec.Kind] = append(byKind[rec.Kind], rec.ID)
	}

	for _, kind := range kinds {
		table, err := kind.table()
		if err != nil {
			return deleted, fmt.Errorf("batch delete: %w", err)
		}
		ids := byKind[kind]
		for start := 0; start < len(ids); start += s.deleteBatchSize {
			end := min(start+s.deleteBatchSize, len(ids))
			n, err := s.deleteChunk(ctx, table, docID, ids[start:end])
			if err != nil {
				return deleted, fmt.Errorf("batch delete %s [%d:%d]: %w", kind, start, end, err)
			}
			deleted += n
		}
	}

	return deleted, nil
}

// deleteChunk removes one chunk of ids inside a single transaction.
func (s *Store) deleteChunk(ctx context.Context, table, docID string, ids []int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, docID)
	for _, id := range ids {
		args = append(args, id)
	}

	// table comes from Kind.table, never from caller input
	result, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE doc_id = ? AND id IN (%s)", table, placeholders),
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}
