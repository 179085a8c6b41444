package openidstore

import (
	"errors"
	"strconv"

	"github.com/MrEthical07/openidstore/internal/stores"
)

var (
	// ErrInvalidServerURL is matched by every *ValidationError.
	ErrInvalidServerURL = errors.New("invalid server url")
	// ErrAssociationCorrupt is returned when a stored association payload cannot be decoded.
	ErrAssociationCorrupt = errors.New("association payload corrupt")
	// ErrStoreNotReady is returned by operations on a nil or closed Store.
	ErrStoreNotReady = errors.New("store not ready")
	// ErrNilAssociation is returned when StoreAssociation is given a nil association.
	ErrNilAssociation = errors.New("association is nil")
	// ErrInvalidAssociation is returned by NewAssociation and DeserializeAssociation for malformed input.
	ErrInvalidAssociation = errors.New("invalid association")
	// ErrInvalidNonce is returned by SplitNonce for a malformed response nonce.
	ErrInvalidNonce = errors.New("invalid nonce")
	// ErrBackendUnavailable wraps failures reported by the underlying database.
	ErrBackendUnavailable = stores.ErrBackendUnavailable
)

// ValidationError reports a server URL that failed the syntactic check. No
// backend call is made when one is returned.
type ValidationError struct {
	ServerURL string
}

// Error implements error.
func (e *ValidationError) Error() string {
	return "invalid server url: " + quoteForError(e.ServerURL)
}

// Is makes errors.Is(err, ErrInvalidServerURL) hold for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidServerURL
}

func quoteForError(s string) string {
	const max = 128
	if len(s) > max {
		s = s[:max] + "..."
	}
	return strconv.Quote(s)
}
