// Package db provides the lock record data model and a standardized interface for
// lock table engines.
//
// The package focuses on:
//   - The Lock Record (Record) and its resource Key, Mode and invariants
//   - A unified interface (ILockTable) for the atomic operations a lock store needs
//   - Feature discovery through capability flags
//   - A compact binary record encoding shared by snapshots and replication
//
// Key Components:
//
//   - Record: exclusive ownership of one Key by one owner for a bounded time window
//     [AcquiredAt, ExpiresAt). A record with now >= ExpiresAt is logically dead.
//
//   - ILockTable Interface: the engine contract. It offers create-if-absent (Insert),
//     compare-and-set on the record id (Update), conditional deletes (Delete with a
//     Condition), owner scoped queries and deletes, and expiry based deletion.
//     Every conditional operation is atomic per key.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
// Note on time:
//
//	Engines never read the wall clock. Every timestamp an engine compares against
//	is handed in by the caller. This keeps engines deterministic, which the
//	replicated state machine in lib/store/dstore relies on.
//
// Related Packages:
//
// The engines/cedar package (github.com/ValentinKolb/dLock/lib/db/engines/cedar)
// provides a sharded in-memory implementation with an expiry index.
//
// The testing package (github.com/ValentinKolb/dLock/lib/db/testing) provides
// a conformance suite for ILockTable implementations.
package db
