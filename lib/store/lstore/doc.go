// Package lstore implements a local, in-memory, single-node lock store based on the
// store.ILockStore interface. It is a thin wrapper around any db.ILockTable
// implementation. Records live entirely in memory and do not survive a restart.
//
// Implementation Details:
//
//   - Atomicity: every conditional operation maps to exactly one table call, and the
//     table guarantees per-key atomicity. The store adds no locking of its own.
//
//   - Context: a cancelled or expired context is reported as an unavailable store
//     error before the table is touched. Table calls never block, so the context is
//     not consulted afterwards.
//
//   - Composition Architecture: the store.TableFactory injects the table, so the store
//     works with any db.ILockTable engine without modification.
//
// Usage Example:
//
//	factory := func() db.ILockTable { return cedar.NewCedarDB(nil) }
//	locks := lease.NewLockManager(lstore.NewLocalStore(factory))
//
// The local store is suitable for a single service instance, tests and development.
// For several processes sharing one lock space use dstore or rstore.
package lstore
