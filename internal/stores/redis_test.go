package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/openidstore/internal/keys"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoresTest(t *testing.T) (*RedisAssociations, *RedisNonces, *redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ns := Namespace{Prefix: "test"}
	return NewRedisAssociations(rdb, ns), NewRedisNonces(rdb, ns), rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func testRecord(serverURL, handle string, expiresAt time.Time) *AssociationRecord {
	return &AssociationRecord{
		ID:        keys.AssociationID(serverURL, handle),
		ServerURL: serverURL,
		Handle:    handle,
		Payload:   []byte("payload-" + handle),
		ExpiresAt: expiresAt,
	}
}

func TestRedisAssociationPutGetReplace(t *testing.T) {
	assocs, _, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()
	exp := time.UnixMilli(time.Now().Add(time.Hour).UnixMilli())

	rec := testRecord("https://op.example/", "h1", exp)
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := assocs.Get(ctx, rec.ID, rec.ServerURL, rec.Handle)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Payload) != "payload-h1" || !got.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec.Payload = []byte("replaced")
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err = assocs.Get(ctx, rec.ID, rec.ServerURL, rec.Handle)
	if err != nil {
		t.Fatalf("get after replace: %v", err)
	}
	if string(got.Payload) != "replaced" {
		t.Fatalf("expected replaced payload, got %q", got.Payload)
	}

	all, err := assocs.FindByServer(ctx, rec.ServerURL)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one record after replace, got %d", len(all))
	}
}

func TestRedisAssociationGetCorroboratesFields(t *testing.T) {
	assocs, _, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("https://op.example/", "h1", time.Now().Add(time.Hour))
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, err := assocs.Get(ctx, rec.ID, rec.ServerURL, "other")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found for mismatched handle, got %v", err)
	}
	_, err = assocs.Get(ctx, keys.AssociationID("https://missing/", "h1"), "https://missing/", "h1")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected not found for missing id, got %v", err)
	}

	removed, err := assocs.Delete(ctx, rec.ID, "https://elsewhere/", rec.Handle)
	if err != nil {
		t.Fatalf("delete mismatched: %v", err)
	}
	if removed {
		t.Fatal("delete with mismatched server url must not remove the record")
	}
}

func TestRedisAssociationDeleteOnce(t *testing.T) {
	assocs, _, rdb, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord("https://op.example/", "h1", time.Now().Add(time.Hour))
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	for i, want := range []bool{true, false, false} {
		got, err := assocs.Delete(ctx, rec.ID, rec.ServerURL, rec.Handle)
		if err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("delete %d: expected %v, got %v", i, want, got)
		}
	}

	members, err := rdb.SMembers(ctx, assocs.keys.serverIndex(rec.ServerURL)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty server index, got %v", members)
	}
	if n, _ := rdb.ZCard(ctx, assocs.keys.expiryIndex()).Result(); n != 0 {
		t.Fatalf("expected empty expiry index, got %d", n)
	}
}

func TestRedisAssociationFindByServerIsolatesServers(t *testing.T) {
	assocs, _, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	for _, rec := range []*AssociationRecord{
		testRecord("https://a.example/", "h1", exp),
		testRecord("https://a.example/", "h2", exp),
		testRecord("https://b.example/", "h1", exp),
	} {
		if err := assocs.Put(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := assocs.FindByServer(ctx, "https://a.example/")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records for server a, got %d", len(got))
	}
	for _, rec := range got {
		if rec.ServerURL != "https://a.example/" {
			t.Fatalf("unexpected server url %q", rec.ServerURL)
		}
	}

	none, err := assocs.FindByServer(ctx, "https://c.example/")
	if err != nil {
		t.Fatalf("find empty: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no records, got %d", len(none))
	}
}

func TestRedisAssociationDeleteExpired(t *testing.T) {
	assocs, _, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	expired := testRecord("https://op.example/", "old", now.Add(-time.Minute))
	live := testRecord("https://op.example/", "new", now.Add(time.Minute))
	for _, rec := range []*AssociationRecord{expired, live} {
		if err := assocs.Put(ctx, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := assocs.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired record removed, got %d", n)
	}

	if _, err := assocs.Get(ctx, expired.ID, expired.ServerURL, expired.Handle); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected expired record gone, got %v", err)
	}
	if _, err := assocs.Get(ctx, live.ID, live.ServerURL, live.Handle); err != nil {
		t.Fatalf("expected live record retained, got %v", err)
	}

	remaining, err := assocs.FindByServer(ctx, "https://op.example/")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Handle != "new" {
		t.Fatalf("unexpected remaining records: %+v", remaining)
	}
}

func TestRedisAssociationRestoreExtendsExpiry(t *testing.T) {
	assocs, _, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	rec := testRecord("https://op.example/", "h1", now.Add(-time.Minute))
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec.ExpiresAt = now.Add(time.Hour)
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	n, err := assocs.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected re-stored record to survive, removed %d", n)
	}
}

func TestRedisNonceInsertRejectsDuplicate(t *testing.T) {
	_, nonces, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	rec := &NonceRecord{
		ID:        keys.NonceID("https://op.example/", 1000, "salt"),
		ServerURL: "https://op.example/",
		Timestamp: 1000,
		Salt:      "salt",
	}
	if err := nonces.Insert(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := nonces.Insert(ctx, rec); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}

func TestRedisNonceInsertConcurrentSingleWinner(t *testing.T) {
	_, nonces, _, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	rec := &NonceRecord{
		ID:        keys.NonceID("https://op.example/", 1000, "race"),
		ServerURL: "https://op.example/",
		Timestamp: 1000,
		Salt:      "race",
	}

	var wins, dups atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := nonces.Insert(ctx, rec); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrDuplicateKey):
				dups.Add(1)
			default:
				t.Errorf("insert: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || dups.Load() != 31 {
		t.Fatalf("expected 1 winner and 31 duplicates, got %d and %d", wins.Load(), dups.Load())
	}
}

func TestRedisNonceDeleteOutside(t *testing.T) {
	_, nonces, rdb, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	for _, ts := range []int64{50, 99, 100, 150, 200, 201, 300} {
		salt := fmt.Sprintf("s%d", ts)
		err := nonces.Insert(ctx, &NonceRecord{
			ID:        keys.NonceID("https://op.example/", ts, salt),
			ServerURL: "https://op.example/",
			Timestamp: ts,
			Salt:      salt,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", ts, err)
		}
	}

	n, err := nonces.DeleteOutside(ctx, 100, 200)
	if err != nil {
		t.Fatalf("delete outside: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 nonces removed, got %d", n)
	}

	left, err := rdb.ZRangeWithScores(ctx, nonces.keys.timestampIndex(), 0, -1).Result()
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	if len(left) != 3 {
		t.Fatalf("expected 3 in-window nonces, got %d", len(left))
	}
	for _, z := range left {
		if z.Score < 100 || z.Score > 200 {
			t.Fatalf("out-of-window nonce survived: %v", z.Score)
		}
	}

	// Boundary nonces are still admitted-once.
	err = nonces.Insert(ctx, &NonceRecord{
		ID:        keys.NonceID("https://op.example/", 100, "s100"),
		ServerURL: "https://op.example/",
		Timestamp: 100,
		Salt:      "s100",
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected in-window nonce to remain, got %v", err)
	}
}

type failSRemHook struct{}

func (failSRemHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (failSRemHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "srem" {
			err := errors.New("srem refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failSRemHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisFindByServerLogsFailedStaleIndexCleanup(t *testing.T) {
	assocs, _, rdb, done := newRedisStoresTest(t)
	defer done()
	ctx := context.Background()

	var logs bytes.Buffer
	assocs.WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	const server = "https://op.example/"
	rec := testRecord(server, "live", time.Now().Add(time.Hour))
	if err := assocs.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	index := assocs.keys.serverIndex(server)
	if err := rdb.SAdd(ctx, index, "swept-id").Err(); err != nil {
		t.Fatalf("sadd: %v", err)
	}

	rdb.AddHook(failSRemHook{})

	recs, err := assocs.FindByServer(ctx, server)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 1 || recs[0].Handle != "live" {
		t.Fatalf("unexpected records %+v", recs)
	}
	out := logs.String()
	if !strings.Contains(out, "stale association index entries not removed") || !strings.Contains(out, "srem refused") {
		t.Fatalf("expected failed cleanup to be logged, got %q", out)
	}
}
