package stores

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	storeAssociationLua   = redis.NewScript(storeAssociationScript)
	deleteAssociationLua  = redis.NewScript(deleteAssociationScript)
	expireAssociationsLua = redis.NewScript(expireAssociationsScript)
	insertNonceLua        = redis.NewScript(insertNonceScript)
	purgeNoncesLua        = redis.NewScript(purgeNoncesScript)
)

// RedisAssociations keeps associations in Redis hashes.
type RedisAssociations struct {
	redis  redis.UniversalClient
	keys   keyspace
	logger *slog.Logger
}

// NewRedisAssociations returns the association collection for ns on
// redisClient.
func NewRedisAssociations(redisClient redis.UniversalClient, ns Namespace) *RedisAssociations {
	return &RedisAssociations{
		redis:  redisClient,
		keys:   newKeyspace(ns),
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithLogger sets the logger used for best-effort index maintenance.
func (s *RedisAssociations) WithLogger(logger *slog.Logger) *RedisAssociations {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Put stores rec and moves its id between the server and expiry indexes in
// one script.
func (s *RedisAssociations) Put(ctx context.Context, rec *AssociationRecord) error {
	err := storeAssociationLua.Run(
		ctx,
		s.redis,
		[]string{s.keys.association(rec.ID), s.keys.serverIndex(rec.ServerURL), s.keys.expiryIndex()},
		rec.ID,
		rec.ServerURL,
		rec.Handle,
		rec.Payload,
		rec.ExpiresAt.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get reads one association hash.
func (s *RedisAssociations) Get(ctx context.Context, id, serverURL, handle string) (*AssociationRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.keys.association(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(fields) == 0 || fields["server_url"] != serverURL || fields["handle"] != handle {
		return nil, ErrRecordNotFound
	}
	return associationFromHash(id, fields)
}

// FindByServer reads the server index and pipelines HGETALL for every id.
// Index entries without a record are removed best-effort.
func (s *RedisAssociations) FindByServer(ctx context.Context, serverURL string) ([]*AssociationRecord, error) {
	index := s.keys.serverIndex(serverURL)

	ids, err := s.redis.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.keys.association(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]*AssociationRecord, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
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
		// Index entries whose record was swept concurrently.
		if err := s.redis.SRem(ctx, index, stale...).Err(); err != nil {
			s.logger.Warn("stale association index entries not removed", "index", index, "count", len(stale), "error", err)
		}
	}

	return out, nil
}

// Delete removes the hash and its index entries.
func (s *RedisAssociations) Delete(ctx context.Context, id, serverURL, handle string) (bool, error) {
	n, err := deleteAssociationLua.Run(
		ctx,
		s.redis,
		[]string{s.keys.association(id), s.keys.expiryIndex()},
		id,
		serverURL,
		handle,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// DeleteExpired sweeps the expiry index up to now.
func (s *RedisAssociations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := expireAssociationsLua.Run(
		ctx,
		s.redis,
		[]string{s.keys.expiryIndex()},
		now.UnixMilli(),
		s.keys.associationPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

// RedisNonces keeps admitted nonces in Redis hashes.
type RedisNonces struct {
	redis redis.UniversalClient
	keys  keyspace
}

// NewRedisNonces returns the nonce collection for ns on redisClient.
func NewRedisNonces(redisClient redis.UniversalClient, ns Namespace) *RedisNonces {
	return &RedisNonces{
		redis: redisClient,
		keys:  newKeyspace(ns),
	}
}

// Insert claims rec.ID with HSETNX and indexes its timestamp.
func (s *RedisNonces) Insert(ctx context.Context, rec *NonceRecord) error {
	n, err := insertNonceLua.Run(
		ctx,
		s.redis,
		[]string{s.keys.nonce(rec.ID), s.keys.timestampIndex()},
		rec.ID,
		rec.ServerURL,
		rec.Timestamp,
		rec.Salt,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// DeleteOutside sweeps both tails of the timestamp index.
func (s *RedisNonces) DeleteOutside(ctx context.Context, lo, hi int64) (int64, error) {
	n, err := purgeNoncesLua.Run(
		ctx,
		s.redis,
		[]string{s.keys.timestampIndex()},
		lo,
		hi,
		s.keys.noncePrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}
