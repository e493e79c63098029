package store

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind selects one of the two record collections kept per document.
type Kind string

const (
	// KindUpdate records hold one incremental CRDT delta each.
	KindUpdate Kind = "updates"
	// KindSnapshot records hold a full encoded CRDT state.
	KindSnapshot Kind = "snapshots"
)

// Valid reports whether k names a known collection.
func (k Kind) Valid() bool {
	return k == KindUpdate || k == KindSnapshot
}

// table returns the SQL table backing the kind. Kind values map 1:1 onto
// table names, but the lookup keeps arbitrary strings out of SQL text.
func (k Kind) table() (string, error) {
	switch k {
	case KindUpdate:
		return "updates", nil
	case KindSnapshot:
		return "snapshots", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", string(k))
	}
}

// Record is one immutable row of either collection.
type Record struct {
	// ID is assigned by the store on append.
	ID    int64
	DocID string
	Kind  Kind

	Payload   []byte
	CreatedAt time.Time

	// UpdateCount is the number of update records folded into a snapshot
	// when it was created. Always zero for update records.
	UpdateCount int
}

// CanonicalID normalizes a document identity to Unicode NFC so that two
// spellings of the same text address the same record log.
func CanonicalID(id string) string {
	return norm.NFC.String(id)
}
