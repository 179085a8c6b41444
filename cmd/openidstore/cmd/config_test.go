package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigEmbedded(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
backend: embedded
prefix: rp
collections:
  nonces: seen
nonce_skew: 2h
audit:
  enabled: true
  drop_if_full: false
metrics:
  latency_histograms: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	storeCfg := cfg.StoreConfig()
	if storeCfg.Backend.Prefix != "rp" || storeCfg.Backend.NoncesCollection != "seen" {
		t.Fatalf("unexpected backend config %+v", storeCfg.Backend)
	}
	if storeCfg.Backend.AssociationsCollection != "associations" {
		t.Fatalf("expected default associations collection, got %q", storeCfg.Backend.AssociationsCollection)
	}
	if storeCfg.Nonce.Skew != 2*time.Hour {
		t.Fatalf("expected 2h skew, got %v", storeCfg.Nonce.Skew)
	}
	if !storeCfg.Audit.Enabled || storeCfg.Audit.DropIfFull {
		t.Fatalf("unexpected audit config %+v", storeCfg.Audit)
	}
	if !storeCfg.Metrics.Enabled || !storeCfg.Metrics.EnableLatencyHistograms {
		t.Fatalf("unexpected metrics config %+v", storeCfg.Metrics)
	}
	if err := storeCfg.Validate(); err != nil {
		t.Fatalf("store config invalid: %v", err)
	}
}

func TestParseConfigExpandsEnv(t *testing.T) {
	t.Setenv("OPENIDSTORE_TEST_REDIS", "127.0.0.1:6390")
	cfg, err := ParseConfig([]byte("backend: redis\nredis:\n  addr: ${OPENIDSTORE_TEST_REDIS}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Redis.Addr != "127.0.0.1:6390" {
		t.Fatalf("expected expanded address, got %q", cfg.Redis.Addr)
	}
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing backend", yaml: "prefix: rp\n"},
		{name: "unknown backend", yaml: "backend: etcd\n"},
		{name: "redis without addr", yaml: "backend: redis\n"},
		{name: "valkey without addrs", yaml: "backend: valkey\n"},
		{name: "mongo without database", yaml: "backend: mongo\nmongo:\n  uri: mongodb://localhost\n"},
		{name: "negative skew", yaml: "backend: embedded\nnonce_skew: -1h\n"},
		{name: "bad yaml", yaml: "backend: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseConfigIgnoresInactiveSections(t *testing.T) {
	if _, err := ParseConfig([]byte("backend: valkey\nvalkey:\n  addrs: [\"127.0.0.1:6379\"]\n")); err != nil {
		t.Fatalf("expected redis and mongo sections to be skipped: %v", err)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenStoreEmbedded(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	path := filepath.Join(dir, "openidstore.yaml")
	content := "backend: embedded\naudit:\n  enabled: true\n  drop_if_full: false\n  file: " + auditPath + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Now().UTC()
	ok, err := store.UseNonce(ctx, "https://op.example", now, "abc123")
	if err != nil || !ok {
		t.Fatalf("first use: ok=%v err=%v", ok, err)
	}
	ok, err = store.UseNonce(ctx, "https://op.example", now, "abc123")
	if err != nil || ok {
		t.Fatalf("replay: ok=%v err=%v", ok, err)
	}
	closeStore()

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the replay to be audited")
	}
}

func TestOpenStoreLogsLintWarnings(t *testing.T) {
	cfg, err := ParseConfig([]byte("backend: embedded\nnonce_skew: 48h\nmetrics:\n  enabled: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var logs bytes.Buffer
	store, closeStore, err := openStore(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeStore()

	if len(store.MetricsSnapshot().Counters) != 0 {
		t.Fatal("expected no counters with metrics disabled")
	}
	out := logs.String()
	for _, code := range []string{"nonce_skew_large", "metrics_disabled"} {
		if !strings.Contains(out, code) {
			t.Fatalf("expected lint code %s in logs, got %q", code, out)
		}
	}
}

func TestRequirePersistentBackend(t *testing.T) {
	if err := requirePersistentBackend(&FileConfig{Backend: "embedded"}, "cleanup"); err == nil {
		t.Fatal("expected the embedded backend to be refused")
	}
	for _, backend := range []string{"redis", "valkey", "mongo"} {
		if err := requirePersistentBackend(&FileConfig{Backend: backend}, "cleanup"); err != nil {
			t.Fatalf("%s: unexpected error %v", backend, err)
		}
	}
}
