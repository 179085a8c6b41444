package openidstore

import (
	"context"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	store, clock, _, done := newStoreTest(t, cfg, sink)
	defer done()

	ctx := context.Background()
	_, _ = store.UseNonce(ctx, testServerURL, clock.Now(), "s")
	_, _ = store.UseNonce(ctx, testServerURL, clock.Now(), "s")
	_, _ = store.CleanupNonces(ctx)
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
	if store.AuditDropped() != 0 {
		t.Fatal("expected no drops when disabled")
	}
}

func TestAuditReplayEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16

	sink := NewChannelSink(16)
	store, clock, _, done := newStoreTest(t, cfg, sink)
	defer done()

	ctx := context.Background()
	if ok, _ := store.UseNonce(ctx, testServerURL, clock.Now(), "s"); !ok {
		t.Fatal("expected first use to succeed")
	}
	if ok, _ := store.UseNonce(ctx, testServerURL, clock.Now(), "s"); ok {
		t.Fatal("expected replay to be rejected")
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != "nonce_replay_rejected" {
			t.Fatalf("expected nonce_replay_rejected, got %q", ev.EventType)
		}
		if ev.ServerURL != testServerURL || ev.Success {
			t.Fatalf("unexpected event fields %+v", ev)
		}
		if !ev.Timestamp.Equal(clock.Now().UTC()) {
			t.Fatalf("expected event stamped with store clock, got %v", ev.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected audit event to be received")
	}
}

func TestAuditCleanupSharesRunID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	sink := NewChannelSink(4)
	store, _, _, done := newStoreTest(t, cfg, sink)
	defer done()

	res, err := store.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	var events []AuditEvent
	for len(events) < 2 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected two sweep events, got %d", len(events))
		}
	}
	if events[0].EventType != "associations_expired" || events[1].EventType != "nonces_purged" {
		t.Fatalf("unexpected event order %q, %q", events[0].EventType, events[1].EventType)
	}
	for _, ev := range events {
		if ev.RunID != res.RunID {
			t.Fatalf("expected run id %q, got %q", res.RunID, ev.RunID)
		}
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false

	var buf strings.Builder
	sink := NewJSONWriterSink(&buf)
	store, clock, _, done := newStoreTest(t, cfg, sink)

	ctx := context.Background()
	a := testAssociation(t, "h", clock.Now().Add(-2*time.Hour), time.Hour)
	if err := store.StoreAssociation(ctx, testServerURL, a); err != nil {
		t.Fatalf("StoreAssociation failed: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := store.CleanupAssociations(ctx); err != nil {
		t.Fatalf("CleanupAssociations failed: %v", err)
	}
	if err := store.StoreAssociation(ctx, testServerURL, a); err != nil {
		t.Fatalf("StoreAssociation failed: %v", err)
	}
	if _, err := store.RemoveAssociation(ctx, testServerURL, "h"); err != nil {
		t.Fatalf("RemoveAssociation failed: %v", err)
	}

	// Close drains the dispatcher before the buffer is inspected.
	done()

	out := buf.String()
	if !strings.Contains(out, "association_removed") {
		t.Fatalf("expected association_removed in audit output, got %q", out)
	}
	payload, _ := a.Serialize()
	for _, needle := range []string{base64.StdEncoding.EncodeToString(a.Secret), string(a.Secret), string(payload)} {
		if strings.Contains(out, needle) {
			t.Fatalf("sensitive value leaked in audit output: %q", needle)
		}
	}
}
