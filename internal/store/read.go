package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReadOrdered returns every record of a kind for a document, oldest first.
// Ties on created_at are broken by id so the order is deterministic.
//
// Returns an empty slice (not nil) if no records exist.
func (s *Store) ReadOrdered(ctx context.Context, docID string, kind Kind) ([]Record, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	docID = CanonicalID(docID)

	query, err := selectQuery(kind, "WHERE doc_id = ? ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}

	rows, err := s.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows, kind)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	return records, nil
}

// ReadLatest returns the most recently created record of a kind.
// The boolean is false (with a nil error) when the document has none.
func (s *Store) ReadLatest(ctx context.Context, docID string, kind Kind) (Record, bool, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return Record{}, false, fmt.Errorf("read latest %s: %w", kind, err)
	}
	docID = CanonicalID(docID)

	query, err := selectQuery(kind, "WHERE doc_id = ? ORDER BY created_at DESC, id DESC LIMIT 1")
	if err != nil {
		return Record{}, false, fmt.Errorf("read latest %s: %w", kind, err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, docID), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read latest %s: %w", kind, err)
	}
	return rec, true, nil
}

// Count returns the number of records of a kind stored for a document.
func (s *Store) Count(ctx context.Context, docID string, kind Kind) (int, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	table, err := kind.table()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}

	var n int
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE doc_id = ?", table),
		CanonicalID(docID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// readAfter returns records with id greater than afterID in id order.
// Used by subscriptions to pick up newly appended rows.
func (s *Store) readAfter(ctx context.Context, docID string, kind Kind, afterID int64) ([]Record, error) {
	query, err := selectQuery(kind, "WHERE doc_id = ? AND id > ? ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, docID, afterID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()
	return scanRecords(rows, kind)
}

// maxID returns the highest id currently stored for a document and kind, or 0.
func (s *Store) maxID(ctx context.Context, docID string, kind Kind) (int64, error) {
	table, err := kind.table()
	if err != nil {
		return 0, err
	}
	var id sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(id) FROM %s WHERE doc_id = ?", table),
		docID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max id %s: %w", kind, err)
	}
	return id.Int64, nil
}

// selectQuery builds the SELECT for a kind. Updates have no update_count
// column, so a constant 0 keeps both scans identical.
func selectQuery(kind Kind, tail string) (string, error) {
	switch kind {
	case KindUpdate:
		return "SELECT id, doc_id, payload, created_at, 0 FROM updates " + tail, nil
	case KindSnapshot:
		return "SELECT id, doc_id, payload, created_at, update_count FROM snapshots " + tail, nil
	default:
		_, err := kind.table()
		return "", err
	}
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, kind Kind) (Record, error) {
	var (
		rec       Record
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.DocID, &rec.Payload, &createdAt, &rec.UpdateCount); err != nil {
		return Record{}, err
	}
	rec.Kind = kind
	rec.CreatedAt = time.Unix(0, createdAt)
	if rec.Payload == nil {
		rec.Payload = []byte{}
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows, kind Kind) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return records, nil
}
