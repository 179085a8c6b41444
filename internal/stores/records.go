package stores

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned by keyed lookups that match nothing.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert violates the primary key.
	ErrDuplicateKey = errors.New("duplicate record key")
	// ErrRecordCorrupt is returned when a stored record cannot be decoded.
	ErrRecordCorrupt = errors.New("record corrupt")
	// ErrBackendUnavailable wraps driver failures.
	ErrBackendUnavailable = errors.New("store backend unavailable")
)

// AssociationRecord is the persisted shape of one association.
type AssociationRecord struct {
	ID        string
	ServerURL string
	Handle    string
	Payload   []byte
	ExpiresAt time.Time
}

// NonceRecord is the persisted shape of one admitted nonce. Timestamp is in
// unix seconds.
type NonceRecord struct {
	ID        string
	ServerURL string
	Timestamp int64
	Salt      string
}

// AssociationCollection is the document collection holding associations.
type AssociationCollection interface {
	// Put inserts rec or replaces the record with the same ID.
	Put(ctx context.Context, rec *AssociationRecord) error
	// Get returns the record with the given id whose server URL and handle
	// also match, or ErrRecordNotFound.
	Get(ctx context.Context, id, serverURL, handle string) (*AssociationRecord, error)
	// FindByServer returns every record stored for serverURL.
	FindByServer(ctx context.Context, serverURL string) ([]*AssociationRecord, error)
	// Delete removes the record matching id, serverURL and handle and
	// reports whether one was removed.
	Delete(ctx context.Context, id, serverURL, handle string) (bool, error)
	// DeleteExpired removes every record whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NonceCollection is the document collection holding admitted nonces.
type NonceCollection interface {
	// Insert adds rec and returns ErrDuplicateKey if its ID already exists.
	Insert(ctx context.Context, rec *NonceRecord) error
	// DeleteOutside removes every record whose timestamp is before lo or
	// after hi.
	DeleteOutside(ctx context.Context, lo, hi int64) (int64, error)
}

// Namespace names the collections a backend writes to.
type Namespace struct {
	Prefix       string
	Associations string
	Nonces       string
}

func (n Namespace) withDefaults() Namespace {
	if n.Prefix == "" {
		n.Prefix = "oid"
	}
	if n.Associations == "" {
		n.Associations = "associations"
	}
	if n.Nonces == "" {
		n.Nonces = "nonces"
	}
	return n
}
