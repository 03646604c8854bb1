// Package middleware exposes HTTP middleware adapters that gate handlers on
// a live stepup grant.
//
// # Guards
//
//   - [RequireGrant] — passes when the principal holds a live grant; the
//     grant is left untouched.
//   - [ConsumeGrant] — spends the grant before invoking the handler; for
//     single-use grants the handler runs at most once per grant.
//
// Each guard resolves the principal through a [PrincipalFunc], calls the
// Engine, and injects the grant status into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement verification logic itself — all decisions are delegated to
// Engine.CheckGrant and Engine.ConsumeGrant.
//
// # What this package must NOT do
//
//   - Issue or verify challenges (callers drive that flow explicitly).
//   - Access the stores directly (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject from the Engine.
package middleware
