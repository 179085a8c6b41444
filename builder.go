package openidstore

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/openidstore/internal/audit"
	"github.com/MrEthical07/openidstore/internal/stores"
	"github.com/redis/go-redis/v9"
	"github.com/valkey-io/valkey-go"
	"go.mongodb.org/mongo-driver/mongo"
)

// Builder assembles a Store. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config Config

	redis  redis.UniversalClient
	valkey valkey.Client
	mongo  *mongo.Database

	associations stores.AssociationCollection
	nonces       stores.NonceCollection

	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig and no backend.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Build validates a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects Redis (single node, cluster or sentinel) as the backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithValkey selects Valkey as the backend.
func (b *Builder) WithValkey(client valkey.Client) *Builder {
	b.valkey = client
	return b
}

// WithMongo selects MongoDB as the backend. Collections are created in db
// under the names from Config.Backend. Call Store.EnsureIndexes once after
// Build.
func (b *Builder) WithMongo(db *mongo.Database) *Builder {
	b.mongo = db
	return b
}

// WithLogger sets the logger for debug traces and backend failures. The
// default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the sink that receives audit events when
// Config.Audit.Enabled is true. A nil sink discards events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock replaces time.Now for expiry, skew and cleanup decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the UseNonce and GetAssociation latency
// histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withCollections(associations stores.AssociationCollection, nonces stores.NonceCollection) *Builder {
	b.associations = associations
	b.nonces = nonces
	return b
}

// Build validates the configuration and returns a Store. It performs no I/O.
func (b *Builder) Build() (*Store, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backends := 0
	for _, set := range []bool{b.redis != nil, b.valkey != nil, b.mongo != nil, b.associations != nil || b.nonces != nil} {
		if set {
			backends++
		}
	}
	switch {
	case backends == 0:
		return nil, errors.New("a backend is required: WithRedis, WithValkey or WithMongo")
	case backends > 1:
		return nil, errors.New("exactly one backend may be configured")
	}

	ns := stores.Namespace{
		Prefix:       cfg.Backend.Prefix,
		Associations: cfg.Backend.AssociationsCollection,
		Nonces:       cfg.Backend.NoncesCollection,
	}

	store := &Store{
		config: cfg,
		logger: b.logger,
	}
	if store.logger == nil {
		store.logger = slog.New(slog.DiscardHandler)
	}

	switch {
	case b.redis != nil:
		store.associations = stores.NewRedisAssociations(b.redis, ns).WithLogger(store.logger)
		store.nonces = stores.NewRedisNonces(b.redis, ns)
	case b.valkey != nil:
		store.associations = stores.NewValkeyAssociations(b.valkey, ns).WithLogger(store.logger)
		store.nonces = stores.NewValkeyNonces(b.valkey, ns)
	case b.mongo != nil:
		associations := stores.NewMongoAssociations(b.mongo, ns)
		nonces := stores.NewMongoNonces(b.mongo, ns)
		store.associations = associations
		store.nonces = nonces
		store.indexers = []indexer{associations, nonces}
	default:
		if b.associations == nil || b.nonces == nil {
			return nil, errors.New("both collections are required")
		}
		store.associations = b.associations
		store.nonces = b.nonces
	}

	store.now = b.now
	if store.now == nil {
		store.now = time.Now
	}
	store.metrics = NewMetrics(cfg.Metrics)
	store.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, store.now)

	b.built = true

	return store, nil
}
