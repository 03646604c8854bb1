package internaldefs

import (
	stepup "github.com/BlakeMcBride1625/stepup"
)

// CounterDef pairs a core metric ID with its stable exported name.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

// HistogramDef pairs a core histogram ID with its stable exported name.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   stepup.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: stepup.MetricChallengeIssued, Name: "stepup_challenge_issued_total", Help: "Newly issued challenges."},
	{ID: stepup.MetricChallengeRefreshed, Name: "stepup_challenge_refreshed_total", Help: "Refreshes of live challenges."},
	{ID: stepup.MetricChallengeRejected, Name: "stepup_challenge_rejected_total", Help: "Challenge requests rejected before issuance."},
	{ID: stepup.MetricDispatchSuccess, Name: "stepup_dispatch_success_total", Help: "Successfully dispatched code messages."},
	{ID: stepup.MetricDispatchFailure, Name: "stepup_dispatch_failure_total", Help: "Failed code message dispatches."},
	{ID: stepup.MetricVerifySuccess, Name: "stepup_verify_success_total", Help: "Successful challenge verifications."},
	{ID: stepup.MetricVerifyFailure, Name: "stepup_verify_failure_total", Help: "Failed challenge verifications."},
	{ID: stepup.MetricVerifyExpired, Name: "stepup_verify_expired_total", Help: "Verification attempts against expired challenges."},
	{ID: stepup.MetricVerifyExhausted, Name: "stepup_verify_exhausted_total", Help: "Challenges invalidated due to the attempt cap."},
	{ID: stepup.MetricVerifyRejected, Name: "stepup_verify_rejected_total", Help: "Verifications rejected before touching the challenge."},
	{ID: stepup.MetricGrantCreated, Name: "stepup_grant_created_total", Help: "Grants opened by successful verifications."},
	{ID: stepup.MetricGrantConsumed, Name: "stepup_grant_consumed_total", Help: "Single-use grants spent by protected calls."},
	{ID: stepup.MetricGrantRevoked, Name: "stepup_grant_revoked_total", Help: "Grants revoked before expiry."},
	{ID: stepup.MetricGateAllowed, Name: "stepup_gate_allowed_total", Help: "Grant gate checks that admitted the caller."},
	{ID: stepup.MetricGateDenied, Name: "stepup_gate_denied_total", Help: "Grant gate checks that denied the caller."},
	{ID: stepup.MetricCodeMessageDeleted, Name: "stepup_code_message_deleted_total", Help: "Delivered code messages deleted after settlement."},
	{ID: stepup.MetricCodeMessageDeleteFailed, Name: "stepup_code_message_delete_failed_total", Help: "Code message deletions that failed."},
	{ID: stepup.MetricApprovalScheduled, Name: "stepup_approval_scheduled_total", Help: "Approval notifications scheduled for self-destruction."},
}

// HistogramDefs lists every exported histogram in render order.
var HistogramDefs = []HistogramDef{
	{ID: stepup.MetricVerifyLatency, Name: "stepup_verify_latency_seconds", Help: "VerifyChallenge latency histogram."},
}

// HistogramBounds holds the upper bucket bounds in seconds, Prometheus form.
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

// HistogramBoundSuffix holds the bucket bounds in identifier-safe form for
// exporters that cannot carry a le label.
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

// NormalizeBuckets copies a raw snapshot slice into the fixed bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts as
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
