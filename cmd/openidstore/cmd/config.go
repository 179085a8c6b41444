package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/MrEthical07/openidstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/valkey-io/valkey-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration read by every command.
type FileConfig struct {
	// Backend "embedded" runs an in-process Redis that starts empty. It is
	// meant for demos of sweep and its metrics endpoint.
	Backend     string        `yaml:"backend" validate:"required,oneof=redis valkey mongo embedded"`
	Redis       RedisConfig   `yaml:"redis"`
	Valkey      ValkeyConfig  `yaml:"valkey"`
	Mongo       MongoConfig   `yaml:"mongo"`
	Prefix      string        `yaml:"prefix"`
	Collections Collections   `yaml:"collections"`
	NonceSkew   time.Duration `yaml:"nonce_skew" validate:"gte=0"`
	Audit       AuditConfig   `yaml:"audit"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// RedisConfig is the redis section, used when backend is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// ValkeyConfig is the valkey section, used when backend is "valkey".
type ValkeyConfig struct {
	Addrs    []string `yaml:"addrs" validate:"required,min=1,dive,required"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
}

// MongoConfig is the mongo section, used when backend is "mongo".
type MongoConfig struct {
	URI      string `yaml:"uri" validate:"required"`
	Database string `yaml:"database" validate:"required"`
}

// Collections overrides the collection names.
type Collections struct {
	Associations string `yaml:"associations"`
	Nonces       string `yaml:"nonces"`
}

// AuditConfig enables audit output. Events go to File, or stdout when
// File is empty.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BufferSize int    `yaml:"buffer_size" validate:"gte=0"`
	DropIfFull *bool  `yaml:"drop_if_full"`
	File       string `yaml:"file"`
}

// MetricsConfig toggles counters and latency histograms.
type MetricsConfig struct {
	Enabled           *bool `yaml:"enabled"`
	LatencyHistograms bool  `yaml:"latency_histograms"`
}

// LoadConfigFile reads path, expands environment variables and validates the
// result.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfigFile for an in-memory document.
func ParseConfig(data []byte) (*FileConfig, error) {
	data = []byte(os.ExpandEnv(string(data)))

	config := new(FileConfig)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Only the section of the selected backend is checked.
	if err := validate.StructExcept(config, inactiveSections(config.Backend)...); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}

	return config, nil
}

func inactiveSections(backend string) []string {
	var except []string
	for _, section := range []string{"Redis", "Valkey", "Mongo"} {
		if !strings.EqualFold(section, backend) {
			except = append(except, section)
		}
	}
	return except
}

// StoreConfig maps the file onto the library configuration. Unset fields
// keep their defaults.
func (c *FileConfig) StoreConfig() openidstore.Config {
	cfg := openidstore.DefaultConfig()
	if c.Prefix != "" {
		cfg.Backend.Prefix = c.Prefix
	}
	if c.Collections.Associations != "" {
		cfg.Backend.AssociationsCollection = c.Collections.Associations
	}
	if c.Collections.Nonces != "" {
		cfg.Backend.NoncesCollection = c.Collections.Nonces
	}
	if c.NonceSkew > 0 {
		cfg.Nonce.Skew = c.NonceSkew
	}
	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}
	if c.Audit.DropIfFull != nil {
		cfg.Audit.DropIfFull = *c.Audit.DropIfFull
	}
	if c.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *c.Metrics.Enabled
	}
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.LatencyHistograms
	return cfg
}

// openStore connects to the configured backend and builds a store. The
// returned function closes the store and everything opened for it.
func openStore(ctx context.Context, config *FileConfig, logger *slog.Logger) (*openidstore.Store, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	storeCfg := config.StoreConfig()
	for _, warning := range storeCfg.Lint() {
		logger.Warn("config lint", "code", warning.Code, "severity", warning.Severity.String(), "message", warning.Message)
	}

	builder := openidstore.New().
		WithConfig(storeCfg).
		WithLogger(logger)

	switch config.Backend {
	case "embedded":
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded redis: %w", err)
		}
		closers = append(closers, mr.Close)
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		closers = append(closers, func() { _ = client.Close() })
		logger.Info("using embedded redis", "addr", mr.Addr())
		builder = builder.WithRedis(client)
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{config.Redis.Addr},
			Username: config.Redis.Username,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		builder = builder.WithRedis(client)
	case "valkey":
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: config.Valkey.Addrs,
			Username:    config.Valkey.Username,
			Password:    config.Valkey.Password,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to valkey: %w", err)
		}
		closers = append(closers, client.Close)
		builder = builder.WithValkey(client)
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		closers = append(closers, func() { _ = client.Disconnect(context.Background()) })
		builder = builder.WithMongo(client.Database(config.Mongo.Database))
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", config.Backend)
	}

	if config.Audit.Enabled {
		sink := openidstore.AuditSink(openidstore.NewJSONWriterSink(os.Stdout))
		if config.Audit.File != "" {
			f, err := os.OpenFile(expandHome(config.Audit.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("opening audit file: %w", err)
			}
			closers = append(closers, func() { _ = f.Close() })
			sink = openidstore.NewJSONWriterSink(f)
		}
		builder = builder.WithAuditSink(sink)
	}

	store, err := builder.Build()
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, store.Close)

	if err := store.EnsureIndexes(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}

	return store, closeAll, nil
}

// requirePersistentBackend rejects the embedded backend for commands whose
// answer depends on records written by other processes.
func requirePersistentBackend(config *FileConfig, command string) error {
	if config.Backend == "embedded" {
		return fmt.Errorf("%s needs a shared backend: the embedded backend starts empty on every run", command)
	}
	return nil
}

// mustOpenStore loads the config file and opens its store. With persistent
// set, the embedded backend is refused.
func mustOpenStore(ctx context.Context, command string, persistent bool) (*openidstore.Store, func()) {
	config, err := LoadConfigFile(configFilePath())
	if err != nil {
		slog.Error("Failed to load config file", "error", err)
		os.Exit(1)
	}
	if persistent {
		if err := requirePersistentBackend(config, command); err != nil {
			slog.Error("Unsupported backend", "backend", config.Backend, "error", err)
			os.Exit(1)
		}
	}
	store, closeStore, err := openStore(ctx, config, slog.Default())
	if err != nil {
		slog.Error("Failed to open store", "backend", config.Backend, "error", err)
		os.Exit(1)
	}
	return store, closeStore
}
