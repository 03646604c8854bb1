// Package stepup provides a step-up verification engine: one-time-code
// challenges delivered over discord, telegram, and email that open short,
// time-boxed access grants for sensitive actions.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// stepup is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (DispatchResult, VerifyResult, GrantStatus, MetricsSnapshot).
// All internal coordination — code generation, record storage, per-key
// locking, audit dispatch — lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or record encodings in its
//     public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Import any sub-package that re-imports stepup (no import cycles).
//
// # Concurrency contract
//
// All challenge and grant mutations run under a per-(principal, action)
// critical section. Concurrent verifications of the same challenge produce at
// most one grant, and concurrent consumption of a single-use grant admits
// exactly one caller. CheckGrant and ConsumeGrant are the hot path and are
// allowed at most one store round-trip per call.
package stepup
