package internaldefs

import (
	"github.com/MrEthical07/handshake"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   handshake.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   handshake.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: handshake.MetricHandshakeStarted, Name: "handshake_oauth_started_total", Help: "OAuth handshakes started."},
	{ID: handshake.MetricHandshakeSuccess, Name: "handshake_oauth_success_total", Help: "Provider callbacks resolved to a local user."},
	{ID: handshake.MetricHandshakeFailure, Name: "handshake_oauth_failure_total", Help: "Provider callbacks rejected."},
	{ID: handshake.MetricChallengeIssued, Name: "handshake_challenge_issued_total", Help: "Challenges created and delivered."},
	{ID: handshake.MetricChallengeSuperseded, Name: "handshake_challenge_superseded_total", Help: "Active challenges replaced by a newer one."},
	{ID: handshake.MetricChallengeDeliveryFailed, Name: "handshake_challenge_delivery_failed_total", Help: "Challenges invalidated after failed delivery."},
	{ID: handshake.MetricChallengeRateLimited, Name: "handshake_challenge_rate_limited_total", Help: "Throttled challenge issuance attempts."},
	{ID: handshake.MetricVerifySuccess, Name: "handshake_verify_success_total", Help: "Accepted one-time codes."},
	{ID: handshake.MetricVerifyInvalidCode, Name: "handshake_verify_invalid_code_total", Help: "Wrong codes with attempts remaining."},
	{ID: handshake.MetricVerifyExpired, Name: "handshake_verify_expired_total", Help: "Verification attempts after expiry."},
	{ID: handshake.MetricVerifyReplay, Name: "handshake_verify_replay_total", Help: "Verification attempts on used challenges."},
	{ID: handshake.MetricVerifyExhausted, Name: "handshake_verify_exhausted_total", Help: "Challenges locked after the attempt budget."},
	{ID: handshake.MetricVerifyNotFound, Name: "handshake_verify_not_found_total", Help: "Verification attempts with unknown tokens."},
	{ID: handshake.MetricVerifyRateLimited, Name: "handshake_verify_rate_limited_total", Help: "Throttled verification attempts."},
	{ID: handshake.MetricSessionIssued, Name: "handshake_session_issued_total", Help: "Durable sessions issued."},
	{ID: handshake.MetricSessionIssueFailure, Name: "handshake_session_issue_failure_total", Help: "Session issuance failures after verification."},
	{ID: handshake.MetricSessionTeardown, Name: "handshake_session_teardown_total", Help: "Provisional sessions removed at the login boundary."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: handshake.MetricVerifyLatency, Name: "handshake_verify_latency_seconds", Help: "Challenge verification latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "handshake_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramBounds are the upper bounds of the latency buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bucket bounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le-style running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
