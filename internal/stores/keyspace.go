package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/openidstore/internal/keys"
)

// keyspace lays out the Redis/Valkey keys for one Namespace:
//
//	<prefix>:<associations>:<id>          association hash
//	<prefix>:<associations>:srv:<digest>  ids stored for one server URL
//	<prefix>:<associations>:exp           ids scored by expiry (unix ms)
//	<prefix>:<nonces>:<id>                nonce hash
//	<prefix>:<nonces>:ts                  ids scored by timestamp (unix s)
type keyspace struct {
	associationPrefix string
	noncePrefix       string
}

func newKeyspace(ns Namespace) keyspace {
	ns = ns.withDefaults()
	return keyspace{
		associationPrefix: ns.Prefix + ":" + ns.Associations + ":",
		noncePrefix:       ns.Prefix + ":" + ns.Nonces + ":",
	}
}

func (k keyspace) association(id string) string {
	return k.associationPrefix + id
}

func (k keyspace) serverIndex(serverURL string) string {
	return k.associationPrefix + "srv:" + keys.ServerIndexID(serverURL)
}

func (k keyspace) expiryIndex() string {
	return k.associationPrefix + "exp"
}

func (k keyspace) nonce(id string) string {
	return k.noncePrefix + id
}

func (k keyspace) timestampIndex() string {
	return k.noncePrefix + "ts"
}

func associationFromHash(id string, fields map[string]string) (*AssociationRecord, error) {
	expiresMs, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: association %s expires_at: %v", ErrRecordCorrupt, id, err)
	}
	return &AssociationRecord{
		ID:        id,
		ServerURL: fields["server_url"],
		Handle:    fields["handle"],
		Payload:   []byte(fields["payload"]),
		ExpiresAt: time.UnixMilli(expiresMs),
	}, nil
}
