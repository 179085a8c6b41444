package internaldefs

import (
	"github.com/MrEthical07/openidstore"
)

// CounterDef names one store counter for export.
type CounterDef struct {
	ID   openidstore.MetricID
	Name string
	Help string
}

// HistogramDef names one store latency histogram for export.
type HistogramDef struct {
	ID   openidstore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: openidstore.MetricAssociationStored, Name: "openidstore_association_stored_total", Help: "Associations stored or replaced."},
	{ID: openidstore.MetricAssociationHit, Name: "openidstore_association_hit_total", Help: "Association lookups that returned an association."},
	{ID: openidstore.MetricAssociationMiss, Name: "openidstore_association_miss_total", Help: "Association lookups that found nothing."},
	{ID: openidstore.MetricAssociationCorrupt, Name: "openidstore_association_corrupt_total", Help: "Stored association payloads that failed to decode."},
	{ID: openidstore.MetricAssociationRemoved, Name: "openidstore_association_removed_total", Help: "Associations removed explicitly."},
	{ID: openidstore.MetricAssociationsExpired, Name: "openidstore_associations_expired_total", Help: "Expired associations deleted by cleanup."},
	{ID: openidstore.MetricNonceAccepted, Name: "openidstore_nonce_accepted_total", Help: "Nonces admitted on first use."},
	{ID: openidstore.MetricNonceReplayed, Name: "openidstore_nonce_replayed_total", Help: "Nonces rejected as already used."},
	{ID: openidstore.MetricNonceSkewRejected, Name: "openidstore_nonce_skew_rejected_total", Help: "Nonces rejected for a timestamp outside the skew window."},
	{ID: openidstore.MetricNonceMalformed, Name: "openidstore_nonce_malformed_total", Help: "Response nonces that could not be parsed."},
	{ID: openidstore.MetricNoncesPurged, Name: "openidstore_nonces_purged_total", Help: "Out-of-window nonces deleted by cleanup."},
	{ID: openidstore.MetricValidationFailure, Name: "openidstore_validation_failure_total", Help: "Calls rejected for a malformed server URL."},
	{ID: openidstore.MetricBackendError, Name: "openidstore_backend_error_total", Help: "Operations that failed in the backend."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: openidstore.MetricUseNonceLatency, Name: "openidstore_use_nonce_latency_seconds", Help: "UseNonce latency histogram."},
	{ID: openidstore.MetricGetAssociationLatency, Name: "openidstore_get_association_latency_seconds", Help: "GetAssociation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds made safe for metric names.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
