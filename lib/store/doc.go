// Package store defines the persistence contract of the lock manager (ILockStore)
// together with a unified error taxonomy.
//
// The package focuses on:
//   - A unified interface (ILockStore) for the atomic conditional operations lease
//     based locking needs: create-if-absent, compare-and-set on the record id,
//     conditional deletes, owner scoped deletes and expiry based deletes
//   - Pluggable storage backends through the TableFactory pattern
//
// Key Components:
//
//   - ILockStore Interface: Every operation takes a context and returns a typed *Error
//     on faults. A condition that does not hold is reported through the boolean result,
//     never as an error. The store does not read the clock; all timestamps are passed in.
//
//   - Error System: Error{Code, Msg} with a RetCode. Error implements Is, so callers
//     can test errors.Is(err, store.ErrUnavailable) without caring about the message.
//
// Implementations:
//
//   - Local Store (lstore): wraps a db.ILockTable in the current process.
//     Available in the "github.com/ValentinKolb/dLock/lib/store/lstore" package.
//
//   - Distributed Store (dstore): every write is a Raft log entry (Dragonboat) applied
//     by a deterministic state machine over a db.ILockTable on each replica.
//     Available in the "github.com/ValentinKolb/dLock/lib/store/dstore" package.
//
//   - Redis Store (rstore): records live in Redis, each conditional operation is one
//     Lua script and therefore atomic on the server.
//     Available in the "github.com/ValentinKolb/dLock/lib/store/rstore" package.
//
// The storetest package holds the conformance suite all three run.
package store
