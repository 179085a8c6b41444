package openidstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/openidstore/internal/audit"
	"github.com/MrEthical07/openidstore/internal/keys"
	"github.com/MrEthical07/openidstore/internal/stores"
	"github.com/google/uuid"
)

// Store persists OpenID associations and single-use nonces. Methods are safe
// for concurrent use once Builder.Build has returned.
//
// Every method performs at most the backend calls needed for one answer and
// never retries. NotFound and replay outcomes are ordinary results, not
// errors.
type Store struct {
	config       Config
	associations stores.AssociationCollection
	nonces       stores.NonceCollection
	indexers     []indexer
	logger       *slog.Logger
	now          func() time.Time
	metrics      *Metrics
	audit        *audit.Dispatcher
	closed       atomic.Bool
}

// indexer is implemented by backends that need secondary indexes created
// before first use.
type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// CleanupResult reports the outcome of one Cleanup call.
type CleanupResult struct {
	RunID        string
	Associations int64
	Nonces       int64
}

func (s *Store) ready() error {
	if s == nil || s.associations == nil || s.nonces == nil || s.closed.Load() {
		return ErrStoreNotReady
	}
	return nil
}

func (s *Store) validateServerURL(serverURL string) error {
	if !strings.Contains(serverURL, "://") {
		s.metrics.Inc(MetricValidationFailure)
		return &ValidationError{ServerURL: serverURL}
	}
	return nil
}

func (s *Store) backendError(op string, err error) error {
	s.metrics.Inc(MetricBackendError)
	s.logger.Error("openid store backend failure", "op", op, "error", err)
	return err
}

/*
====================================
ASSOCIATIONS
====================================
*/

// StoreAssociation saves a under (serverURL, a.Handle), replacing any
// association already stored for that pair. The record expires at the
// current time plus a.ExpiresIn.
func (s *Store) StoreAssociation(ctx context.Context, serverURL string, a *Association) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.validateServerURL(serverURL); err != nil {
		return err
	}
	if a == nil {
		return ErrNilAssociation
	}

	s.logger.Debug("storing association", "server_url", serverURL, "handle", a.Handle)

	payload, err := a.Serialize()
	if err != nil {
		return err
	}

	now := s.now()
	rec := &stores.AssociationRecord{
		ID:        keys.AssociationID(serverURL, a.Handle),
		ServerURL: serverURL,
		Handle:    a.Handle,
		Payload:   payload,
		ExpiresAt: now.Add(a.ExpiresIn(now)),
	}
	if err := s.associations.Put(ctx, rec); err != nil {
		return s.backendError("store_association", err)
	}

	s.metrics.Inc(MetricAssociationStored)
	return nil
}

// GetAssociation returns the association stored under (serverURL, handle).
// With an empty handle it returns the most recently issued association for
// serverURL, breaking ties on Issued by the lexicographically greatest
// handle. A missing association is reported as (nil, false, nil).
//
// Expired associations that no cleanup has removed yet are still returned;
// callers check ExpiresIn.
func (s *Store) GetAssociation(ctx context.Context, serverURL, handle string) (*Association, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	if err := s.validateServerURL(serverURL); err != nil {
		return nil, false, err
	}

	start := time.Now()
	defer func() {
		s.metrics.Observe(MetricGetAssociationLatency, time.Since(start))
	}()

	s.logger.Debug("association requested", "server_url", serverURL, "handle", handle)

	var (
		a   *Association
		err error
	)
	if handle == "" {
		a, err = s.latestAssociation(ctx, serverURL)
	} else {
		a, err = s.exactAssociation(ctx, serverURL, handle)
	}
	if err != nil {
		return nil, false, err
	}
	if a == nil {
		s.metrics.Inc(MetricAssociationMiss)
		return nil, false, nil
	}

	s.metrics.Inc(MetricAssociationHit)
	return a, true, nil
}

// LatestAssociation is GetAssociation without a handle.
func (s *Store) LatestAssociation(ctx context.Context, serverURL string) (*Association, bool, error) {
	return s.GetAssociation(ctx, serverURL, "")
}

func (s *Store) exactAssociation(ctx context.Context, serverURL, handle string) (*Association, error) {
	rec, err := s.associations.Get(ctx, keys.AssociationID(serverURL, handle), serverURL, handle)
	if errors.Is(err, stores.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, stores.ErrRecordCorrupt) {
			s.metrics.Inc(MetricAssociationCorrupt)
			return nil, wrapCorrupt(err)
		}
		return nil, s.backendError("get_association", err)
	}

	a, err := DeserializeAssociation(rec.Payload)
	if err != nil {
		s.metrics.Inc(MetricAssociationCorrupt)
		return nil, wrapCorrupt(err)
	}
	if a.Handle != handle {
		s.metrics.Inc(MetricAssociationCorrupt)
		return nil, wrapCorrupt(errors.New("payload handle does not match record"))
	}
	return a, nil
}

func (s *Store) latestAssociation(ctx context.Context, serverURL string) (*Association, error) {
	recs, err := s.associations.FindByServer(ctx, serverURL)
	if err != nil {
		return nil, s.backendError("get_association", err)
	}

	var latest *Association
	for _, rec := range recs {
		a, err := DeserializeAssociation(rec.Payload)
		if err != nil {
			s.metrics.Inc(MetricAssociationCorrupt)
			s.logger.Warn("skipping corrupt association", "server_url", serverURL, "handle", rec.Handle, "error", err)
			continue
		}
		if latest == nil || newerAssociation(a, latest) {
			latest = a
		}
	}
	if latest != nil {
		s.logger.Debug("most recent association", "server_url", serverURL, "handle", latest.Handle)
	}
	return latest, nil
}

// newerAssociation orders by Issued, then by handle.
func newerAssociation(a, than *Association) bool {
	if !a.Issued.Equal(than.Issued) {
		return a.Issued.After(than.Issued)
	}
	return a.Handle > than.Handle
}

func wrapCorrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrAssociationCorrupt, err)
}

// RemoveAssociation deletes the association stored under (serverURL, handle)
// and reports whether one existed.
func (s *Store) RemoveAssociation(ctx context.Context, serverURL, handle string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := s.validateServerURL(serverURL); err != nil {
		return false, err
	}

	s.logger.Debug("removing association", "server_url", serverURL, "handle", handle)

	removed, err := s.associations.Delete(ctx, keys.AssociationID(serverURL, handle), serverURL, handle)
	if err != nil {
		return false, s.backendError("remove_association", err)
	}
	if removed {
		s.metrics.Inc(MetricAssociationRemoved)
		s.emitAudit(ctx, AuditEvent{
			EventType: auditEventAssociationRemoved,
			ServerURL: serverURL,
			Handle:    handle,
			Success:   true,
		})
	}
	return removed, nil
}

// CleanupAssociations deletes every association whose expiry is before the
// current time and returns how many were deleted. Associations that have not
// expired are never touched.
func (s *Store) CleanupAssociations(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.cleanupAssociations(ctx, uuid.NewString())
}

func (s *Store) cleanupAssociations(ctx context.Context, runID string) (int64, error) {
	n, err := s.associations.DeleteExpired(ctx, s.now())
	if err != nil {
		s.emitAudit(ctx, AuditEvent{
			EventType: auditEventAssociationsExpired,
			RunID:     runID,
			Success:   false,
			Error:     err.Error(),
		})
		return 0, s.backendError("cleanup_associations", err)
	}

	s.metrics.Add(MetricAssociationsExpired, uint64(n))
	s.logger.Info("expired associations removed", "run_id", runID, "count", n)
	s.emitAudit(ctx, AuditEvent{
		EventType: auditEventAssociationsExpired,
		RunID:     runID,
		Count:     n,
		Success:   true,
	})
	return n, nil
}

/*
====================================
NONCES
====================================
*/

// UseNonce admits the nonce (serverURL, timestamp, salt) at most once. It
// returns false without writing when timestamp is more than the configured
// skew away from the current time, and false when the nonce was already
// used. The skew check uses timestamp as given; the stored record keeps
// second resolution.
//
// The server URL is not validated here.
func (s *Store) UseNonce(ctx context.Context, serverURL string, timestamp time.Time, salt string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	start := time.Now()
	defer func() {
		s.metrics.Observe(MetricUseNonceLatency, time.Since(start))
	}()

	drift := s.now().Sub(timestamp)
	if drift > s.config.Nonce.Skew || drift < -s.config.Nonce.Skew {
		s.metrics.Inc(MetricNonceSkewRejected)
		s.logger.Debug("nonce timestamp outside skew window", "server_url", serverURL, "timestamp", timestamp.Unix(), "drift", drift)
		s.emitAudit(ctx, AuditEvent{
			EventType: auditEventNonceSkewRejected,
			ServerURL: serverURL,
			Success:   false,
			Metadata:  map[string]string{"drift": drift.String()},
		})
		return false, nil
	}

	ts := timestamp.Unix()
	rec := &stores.NonceRecord{
		ID:        keys.NonceID(serverURL, ts, salt),
		ServerURL: serverURL,
		Timestamp: ts,
		Salt:      salt,
	}
	err := s.nonces.Insert(ctx, rec)
	if errors.Is(err, stores.ErrDuplicateKey) {
		s.metrics.Inc(MetricNonceReplayed)
		s.logger.Debug("nonce already used", "server_url", serverURL, "nonce_id", rec.ID)
		s.emitAudit(ctx, AuditEvent{
			EventType: auditEventNonceReplayRejected,
			ServerURL: serverURL,
			Success:   false,
		})
		return false, nil
	}
	if err != nil {
		return false, s.backendError("use_nonce", err)
	}

	s.metrics.Inc(MetricNonceAccepted)
	return true, nil
}

// UseNonceString splits an OpenID response nonce and calls UseNonce. A nonce
// that does not parse is rejected the same way as a replay.
func (s *Store) UseNonceString(ctx context.Context, serverURL, nonce string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	ts, salt, err := SplitNonce(nonce)
	if err != nil {
		s.metrics.Inc(MetricNonceMalformed)
		s.logger.Debug("malformed response nonce", "server_url", serverURL, "error", err)
		return false, nil
	}
	return s.UseNonce(ctx, serverURL, ts, salt)
}

// CleanupNonces deletes every nonce whose timestamp lies outside the skew
// window around the current time and returns how many were deleted.
func (s *Store) CleanupNonces(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.cleanupNonces(ctx, uuid.NewString())
}

func (s *Store) cleanupNonces(ctx context.Context, runID string) (int64, error) {
	now := s.now().Unix()
	skew := int64(s.config.Nonce.Skew / time.Second)

	n, err := s.nonces.DeleteOutside(ctx, now-skew, now+skew)
	if err != nil {
		s.emitAudit(ctx, AuditEvent{
			EventType: auditEventNoncesPurged,
			RunID:     runID,
			Success:   false,
			Error:     err.Error(),
		})
		return 0, s.backendError("cleanup_nonces", err)
	}

	s.metrics.Add(MetricNoncesPurged, uint64(n))
	s.logger.Info("stale nonces removed", "run_id", runID, "count", n)
	s.emitAudit(ctx, AuditEvent{
		EventType: auditEventNoncesPurged,
		RunID:     runID,
		Count:     n,
		Success:   true,
	})
	return n, nil
}

// Cleanup runs both sweeps under one run id. Both sweeps run even if the
// first fails; the returned error joins their failures.
func (s *Store) Cleanup(ctx context.Context) (CleanupResult, error) {
	if err := s.ready(); err != nil {
		return CleanupResult{}, err
	}

	res := CleanupResult{RunID: uuid.NewString()}
	var errA, errN error
	res.Associations, errA = s.cleanupAssociations(ctx, res.RunID)
	res.Nonces, errN = s.cleanupNonces(ctx, res.RunID)
	return res, errors.Join(errA, errN)
}

/*
====================================
LIFECYCLE
====================================
*/

// EnsureIndexes creates the secondary indexes the backend relies on. It is a
// no-op for backends that maintain their own indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, ix := range s.indexers {
		if err := ix.EnsureIndexes(ctx); err != nil {
			return s.backendError("ensure_indexes", err)
		}
	}
	return nil
}

// MetricsSnapshot returns a copy of the store counters.
func (s *Store) MetricsSnapshot() MetricsSnapshot {
	if s == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return s.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped on a full buffer.
func (s *Store) AuditDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.audit.Dropped()
}

// Close flushes pending audit events. Backend clients belong to the caller
// and are left open. Close is idempotent.
func (s *Store) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.audit.Close()
}
