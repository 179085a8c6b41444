package openidstore

import (
	"context"
	"io"

	"github.com/MrEthical07/openidstore/internal/audit"
)

// AuditEvent is one structured record delivered to an AuditSink. Association
// secrets and payloads never appear in events.
type AuditEvent = audit.Event

// AuditSink receives audit events from the store's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink discards every event.
type NoOpSink = audit.NoOpSink

// ChannelSink forwards events into a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per event and line.
type JSONWriterSink = audit.JSONWriterSink

// NewChannelSink returns a sink backed by a channel of the given capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	auditEventNonceReplayRejected = "nonce_replay_rejected"
	auditEventNonceSkewRejected   = "nonce_skew_rejected"
	auditEventAssociationRemoved  = "association_removed"
	auditEventAssociationsExpired = "associations_expired"
	auditEventNoncesPurged        = "nonces_purged"
)

func (s *Store) emitAudit(ctx context.Context, event AuditEvent) {
	if s == nil || s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}
