// Package store provides the SQLite-backed durable local cache for progsync.
//
// The store holds two kinds of state:
//   - KV: string keys to string values, the offline source of truth between
//     synchronization cycles (the shape keys are resolved into by package keys)
//   - Time ledger: pending time deltas per (user, unit), so accumulated
//     seconds survive a crash between ticks and an acknowledged flush
//
// # Patterns
//
//   - Values are opaque strings; typing happens in package keys
//   - Writes are upserts and deletes of absent keys are no-ops, so a
//     redundant write from a second process sharing the file is harmless
//   - Keys are listed in byte order (ORDER BY key COLLATE BINARY)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Schema changes are applied through PRAGMA user_version migrations.
package store
