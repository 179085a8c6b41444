package stores

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

var (
	storeAssociationValkey   = valkey.NewLuaScript(storeAssociationScript)
	deleteAssociationValkey  = valkey.NewLuaScript(deleteAssociationScript)
	expireAssociationsValkey = valkey.NewLuaScript(expireAssociationsScript)
	insertNonceValkey        = valkey.NewLuaScript(insertNonceScript)
	purgeNoncesValkey        = valkey.NewLuaScript(purgeNoncesScript)
)

// ValkeyAssociations keeps associations in Valkey hashes, using the same
// key layout and scripts as RedisAssociations.
type ValkeyAssociations struct {
	client valkey.Client
	keys   keyspace
	logger *slog.Logger
}

// NewValkeyAssociations returns the association collection for ns on client.
func NewValkeyAssociations(client valkey.Client, ns Namespace) *ValkeyAssociations {
	return &ValkeyAssociations{
		client: client,
		keys:   newKeyspace(ns),
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger used for best-effort index maintenance.
func (s *ValkeyAssociations) WithLogger(logger *slog.Logger) *ValkeyAssociations {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Put stores rec through the shared store script.
func (s *ValkeyAssociations) Put(ctx context.Context, rec *AssociationRecord) error {
	err := storeAssociationValkey.Exec(
		ctx,
		s.client,
		[]string{s.keys.association(rec.ID), s.keys.serverIndex(rec.ServerURL), s.keys.expiryIndex()},
		[]string{
			rec.ID,
			rec.ServerURL,
			rec.Handle,
			string(rec.Payload),
			strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		},
	).Error()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get reads one association hash.
func (s *ValkeyAssociations) Get(ctx context.Context, id, serverURL, handle string) (*AssociationRecord, error) {
	cmd := s.client.B().Hgetall().Key(s.keys.association(id)).Build()
	fields, err := s.client.Do(ctx, cmd).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(fields) == 0 || fields["server_url"] != serverURL || fields["handle"] != handle {
		return nil, ErrRecordNotFound
	}
	return associationFromHash(id, fields)
}

// FindByServer reads the server index and then every listed hash in one
// round trip.
func (s *ValkeyAssociations) FindByServer(ctx context.Context, serverURL string) ([]*AssociationRecord, error) {
	index := s.keys.serverIndex(serverURL)

	ids, err := s.client.Do(ctx, s.client.B().Smembers().Key(index).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]valkey.Completed, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, s.client.B().Hgetall().Key(s.keys.association(id)).Build())
	}

	out := make([]*AssociationRecord, 0, len(ids))
	var stale []string
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		fields, err := res.AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		if fields["server_url"] != serverURL {
			continue
		}
		rec, err := associationFromHash(ids[i], fields)
		if err != nil {
			// A broken expiry does not affect the payload the scan reads.
			rec = &AssociationRecord{ID: ids[i], ServerURL: fields["server_url"], Handle: fields["handle"], Payload: []byte(fields["payload"])}
		}
		out = append(out, rec)
	}

	if len(stale) > 0 {
		if err := s.client.Do(ctx, s.client.B().Srem().Key(index).Member(stale...).Build()).Error(); err != nil {
			s.logger.Warn("stale association index entries not removed", "index", index, "count", len(stale), "error", err)
		}
	}

	return out, nil
}

// Delete removes the hash and its index entries.
func (s *ValkeyAssociations) Delete(ctx context.Context, id, serverURL, handle string) (bool, error) {
	n, err := deleteAssociationValkey.Exec(
		ctx,
		s.client,
		[]string{s.keys.association(id), s.keys.expiryIndex()},
		[]string{id, serverURL, handle},
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// DeleteExpired sweeps the expiry index up to now.
func (s *ValkeyAssociations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := expireAssociationsValkey.Exec(
		ctx,
		s.client,
		[]string{s.keys.expiryIndex()},
		[]string{strconv.FormatInt(now.UnixMilli(), 10), s.keys.associationPrefix},
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

// ValkeyNonces keeps admitted nonces in Valkey hashes.
type ValkeyNonces struct {
	client valkey.Client
	keys   keyspace
}

// NewValkeyNonces returns the nonce collection for ns on client.
func NewValkeyNonces(client valkey.Client, ns Namespace) *ValkeyNonces {
	return &ValkeyNonces{
		client: client,
		keys:   newKeyspace(ns),
	}
}

// Insert claims rec.ID with HSETNX.
func (s *ValkeyNonces) Insert(ctx context.Context, rec *NonceRecord) error {
	n, err := insertNonceValkey.Exec(
		ctx,
		s.client,
		[]string{s.keys.nonce(rec.ID), s.keys.timestampIndex()},
		[]string{rec.ID, rec.ServerURL, strconv.FormatInt(rec.Timestamp, 10), rec.Salt},
	).AsInt64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// DeleteOutside sweeps both tails of the timestamp index.
func (s *ValkeyNonces) DeleteOutside(ctx context.Context, lo, hi int64) (int64, error) {
	n, err := purgeNoncesValkey.Exec(
		ctx,
		s.client,
		[]string{s.keys.timestampIndex()},
		[]string{strconv.FormatInt(lo, 10), strconv.FormatInt(hi, 10), s.keys.noncePrefix},
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}
