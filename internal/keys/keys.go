package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

const (
	domainAssociation = "openid.association.v1"
	domainNonce       = "openid.nonce.v1"
	domainServer      = "openid.server.v1"
)

// AssociationID addresses one association by (server URL, handle).
func AssociationID(serverURL, handle string) string {
	return digest(domainAssociation, serverURL, handle)
}

// NonceID addresses one nonce by (server URL, unix timestamp, salt).
func NonceID(serverURL string, timestamp int64, salt string) string {
	return digest(domainNonce, serverURL, strconv.FormatInt(timestamp, 10), salt)
}

// ServerIndexID names the per-server association index.
func ServerIndexID(serverURL string) string {
	return digest(domainServer, serverURL)
}

func digest(domain string, fields ...string) string {
	h := sha256.New()
	writeField(h, domain)
	for _, f := range fields {
		writeField(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
	_, _ = h.Write(lenBuf[:n])
	_, _ = h.Write([]byte(field))
}
