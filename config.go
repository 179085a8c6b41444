package openidstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full store configuration. Obtain a populated value with
// DefaultConfig and override fields before passing it to Builder.WithConfig.
type Config struct {
	Backend BackendConfig
	Nonce   NonceConfig
	Metrics MetricsConfig
	Audit   AuditConfig
}

/*
====================================
BACKEND CONFIG
====================================
*/

// BackendConfig names the two collections. On Redis and Valkey the names
// become key prefixes under Prefix; on MongoDB they are collection names and
// Prefix is unused.
type BackendConfig struct {
	Prefix                 string
	AssociationsCollection string
	NoncesCollection       string
}

// NonceConfig controls nonce admission and cleanup.
type NonceConfig struct {
	// Skew is the tolerated distance between a nonce timestamp and the
	// store clock.
	Skew time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the configuration used when Builder.WithConfig is
// never called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Prefix:                 "oid",
			AssociationsCollection: "associations",
			NoncesCollection:       "nonces",
		},
		Nonce: NonceConfig{
			Skew: DefaultSkew,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// Backend
	if strings.TrimSpace(c.Backend.Prefix) == "" {
		return errors.New("Backend Prefix must not be empty")
	}
	if strings.TrimSpace(c.Backend.AssociationsCollection) == "" {
		return errors.New("Backend AssociationsCollection must not be empty")
	}
	if strings.TrimSpace(c.Backend.NoncesCollection) == "" {
		return errors.New("Backend NoncesCollection must not be empty")
	}
	if c.Backend.AssociationsCollection == c.Backend.NoncesCollection {
		return errors.New("Backend AssociationsCollection and NoncesCollection must differ")
	}
	for _, name := range []string{c.Backend.Prefix, c.Backend.AssociationsCollection, c.Backend.NoncesCollection} {
		if strings.ContainsAny(name, ": \t\n") {
			return fmt.Errorf("Backend name %q must not contain ':' or whitespace", name)
		}
	}

	// Nonce
	if c.Nonce.Skew <= 0 {
		return errors.New("Nonce Skew must be > 0")
	}
	if c.Nonce.Skew%time.Second != 0 {
		return errors.New("Nonce Skew must be a whole number of seconds")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

/*
====================================
LINT
====================================
*/

// LintSeverity ranks a LintWarning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

// String returns the upper-case severity name.
func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a configuration that validates but is probably not intended.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings produced by Config.Lint.
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// AsError joins every warning at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	var msgs []string
	for _, w := range r {
		if w.Severity >= min {
			msgs = append(msgs, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New("config lint: " + strings.Join(msgs, "; "))
}

// Lint inspects a configuration that passes Validate for settings that
// weaken replay protection or observability.
func (c *Config) Lint() LintResult {
	var ws LintResult

	if c.Nonce.Skew > 24*time.Hour {
		ws = append(ws, LintWarning{
			Code:     "nonce_skew_large",
			Severity: LintHigh,
			Message:  "nonces stay replayable for more than a day of clock drift",
		})
	} else if c.Nonce.Skew > DefaultSkew {
		ws = append(ws, LintWarning{
			Code:     "nonce_skew_above_default",
			Severity: LintWarn,
			Message:  "skew exceeds the 5h default",
		})
	}
	if c.Nonce.Skew > 0 && c.Nonce.Skew < time.Minute {
		ws = append(ws, LintWarning{
			Code:     "nonce_skew_small",
			Severity: LintWarn,
			Message:  "ordinary clock drift between parties will reject valid nonces",
		})
	}
	if !c.Audit.Enabled {
		ws = append(ws, LintWarning{
			Code:     "audit_disabled",
			Severity: LintInfo,
			Message:  "replay rejections are not audited",
		})
	} else if c.Audit.DropIfFull {
		ws = append(ws, LintWarning{
			Code:     "audit_drop_if_full",
			Severity: LintInfo,
			Message:  "audit events are dropped when the buffer is full",
		})
	}
	if !c.Metrics.Enabled {
		ws = append(ws, LintWarning{
			Code:     "metrics_disabled",
			Severity: LintInfo,
			Message:  "store counters are not collected",
		})
	}

	return ws
}
