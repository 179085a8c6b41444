package openidstore

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/openidstore/internal"
)

// AssocType names the MAC algorithm an association secret is used with.
type AssocType string

const (
	AssocHMACSHA1   AssocType = "HMAC-SHA1"
	AssocHMACSHA256 AssocType = "HMAC-SHA256"
)

// SecretSize returns the secret length in bytes required by t, or 0 for an
// unknown type.
func (t AssocType) SecretSize() int {
	switch t {
	case AssocHMACSHA1:
		return 20
	case AssocHMACSHA256:
		return 32
	default:
		return 0
	}
}

// GenerateSecret returns a random secret of the size t requires.
func GenerateSecret(t AssocType) ([]byte, error) {
	size := t.SecretSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: unknown association type %q", ErrInvalidAssociation, t)
	}
	return internal.RandomBytes(size)
}

const (
	associationFormatVersion = "2"
	maxLifetimeSeconds       = int64(math.MaxInt64 / time.Second)
)

// associationFields is the fixed key order of the key-value form.
var associationFields = [...]string{"version", "handle", "secret", "issued", "lifetime", "assoc_type"}

// Association is a shared secret negotiated between a relying party and an
// identity provider. Issued has second resolution.
type Association struct {
	Handle    string
	Secret    []byte
	Issued    time.Time
	Lifetime  time.Duration
	AssocType AssocType
}

// NewAssociation validates its inputs and returns an Association with Issued
// truncated to the second.
func NewAssociation(handle string, secret []byte, issued time.Time, lifetime time.Duration, assocType AssocType) (*Association, error) {
	a := &Association{
		Handle:    handle,
		Secret:    append([]byte(nil), secret...),
		Issued:    time.Unix(issued.Unix(), 0).UTC(),
		Lifetime:  lifetime.Truncate(time.Second),
		AssocType: assocType,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Association) validate() error {
	if a.Handle == "" {
		return fmt.Errorf("%w: empty handle", ErrInvalidAssociation)
	}
	for i := 0; i < len(a.Handle); i++ {
		if c := a.Handle[i]; c < 0x21 || c > 0x7e {
			return fmt.Errorf("%w: handle must be printable ASCII without spaces", ErrInvalidAssociation)
		}
	}
	size := a.AssocType.SecretSize()
	if size == 0 {
		return fmt.Errorf("%w: unknown association type %q", ErrInvalidAssociation, a.AssocType)
	}
	if len(a.Secret) != size {
		return fmt.Errorf("%w: %s needs a %d byte secret, got %d", ErrInvalidAssociation, a.AssocType, size, len(a.Secret))
	}
	if a.Lifetime < time.Second {
		return fmt.Errorf("%w: lifetime must be at least one second", ErrInvalidAssociation)
	}
	return nil
}

// ExpiresAt is Issued plus Lifetime.
func (a *Association) ExpiresAt() time.Time {
	return a.Issued.Add(a.Lifetime)
}

// ExpiresIn returns the lifetime remaining at now, never negative.
func (a *Association) ExpiresIn(now time.Time) time.Duration {
	remaining := a.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Serialize encodes the association in OpenID key-value form, one
// "key:value\n" line per field in a fixed order.
func (a *Association) Serialize() ([]byte, error) {
	if a == nil {
		return nil, ErrNilAssociation
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	values := [...]string{
		associationFormatVersion,
		a.Handle,
		base64.StdEncoding.EncodeToString(a.Secret),
		strconv.FormatInt(a.Issued.Unix(), 10),
		strconv.FormatInt(int64(a.Lifetime/time.Second), 10),
		string(a.AssocType),
	}

	var buf bytes.Buffer
	for i, key := range associationFields {
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(values[i])
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DeserializeAssociation decodes the output of Serialize. Keys must appear
// exactly once and in the order Serialize writes them.
func DeserializeAssociation(data []byte) (*Association, error) {
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != len(associationFields) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidAssociation, len(associationFields), len(lines))
	}

	var values [len(associationFields)]string
	for i, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: line %d has no separator", ErrInvalidAssociation, i+1)
		}
		if key != associationFields[i] {
			return nil, fmt.Errorf("%w: expected key %q, got %q", ErrInvalidAssociation, associationFields[i], key)
		}
		values[i] = value
	}

	if values[0] != associationFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidAssociation, values[0])
	}
	secret, err := base64.StdEncoding.DecodeString(values[2])
	if err != nil {
		return nil, fmt.Errorf("%w: secret: %v", ErrInvalidAssociation, err)
	}
	issued, err := strconv.ParseInt(values[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: issued: %v", ErrInvalidAssociation, err)
	}
	lifetime, err := strconv.ParseInt(values[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lifetime: %v", ErrInvalidAssociation, err)
	}
	if lifetime > maxLifetimeSeconds {
		return nil, fmt.Errorf("%w: lifetime out of range", ErrInvalidAssociation)
	}

	a := &Association{
		Handle:    values[1],
		Secret:    secret,
		Issued:    time.Unix(issued, 0).UTC(),
		Lifetime:  time.Duration(lifetime) * time.Second,
		AssocType: AssocType(values[5]),
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Equal reports whether a and other describe the same association. Secrets
// are compared in constant time.
func (a *Association) Equal(other *Association) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.Handle == other.Handle &&
		a.AssocType == other.AssocType &&
		a.Issued.Equal(other.Issued) &&
		a.Lifetime == other.Lifetime &&
		subtle.ConstantTimeCompare(a.Secret, other.Secret) == 1
}
