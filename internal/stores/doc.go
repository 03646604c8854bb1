// Package stores holds the keyed mutable state behind the step-up engine:
// in-flight challenges and elevated-access grants, one record per
// (principal, action) pair.
//
// Two backends implement the same contracts. The memory backend is the
// default: sharded maps with per-shard locking and a periodic expiry sweep
// that takes the same locks as in-flight operations. The Redis backend keeps
// state out-of-process for deployments that want challenges and grants to
// survive a restart; atomic read-modify-write runs inside WATCH/EXEC retry
// loops and expiry is delegated to key TTLs.
//
// # What this package must NOT do
//
//   - Perform notifier I/O or hold a lock across anything that suspends.
//     Mutation callbacks passed to Update are pure in-memory functions.
//   - Interpret codes or composition rules. Policy lives in the root
//     package; stores only guard atomicity and lifetimes.
package stores
