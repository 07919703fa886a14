// Package lease implements a lease based lock manager on top of any store that
// implements the store.ILockStore interface. It serializes edits to shared resources
// (identified by a resource type and id) across any number of processes.
//
// The manager only ever stores in the provided ILockStore and has no other internal
// state. Therefore it is safe to create it multiple times on the same store, in one
// process or in many. As long as the same store is used every time, all locks will
// work as expected.
//
// Core Functionality:
//   - Lock acquisition, re-entrant refresh and reclaiming of abandoned leases
//   - Conflict reporting with the current holder's display name and expiry
//   - Safe release operations that verify ownership
//   - Force release for privileged callers and release of all locks of an owner
//   - Expiry reconciliation on every read plus an optional background Sweeper
//
// Implementation Approach:
//
//	Locks are implemented by leveraging the atomic conditional operations
//	of the underlying store. Specifically:
//
//	- Lock Acquisition: The record for the key is read once and the decision
//	  (create, refresh, reclaim or conflict) is made against that single read.
//	  Every write that follows is conditioned on the read still being current:
//	  InsertIfAbsent for a free key, UpdateInPlace on the record id for a refresh,
//	  DeleteByKey on the record id and expiry for a reclaim. If a condition fails,
//	  another caller changed the key and the decision is repeated (at most 3 times,
//	  then ErrContention is returned).
//
//	- Expiry: A record with now >= expiresAt is dead. It never blocks an
//	  acquisition and is deleted by the next check, acquire or sweep that sees it.
//	  The store itself does not interpret lease time.
//
//	- Safe Release: ReleaseLock deletes the record only if it is held by the
//	  caller. Releasing someone else's or a missing lock is a no-op result, not an error.
//
// Error Handling:
//
//	Conflict, NotFound and NotOwner are results. Store faults are returned as
//	ErrStoreUnavailable (wrapping the *store.Error) and are never retried internally.
//	The manager never reports success without the store having accepted the write.
//
// Usage Example:
//
//	mgr := lease.NewLockManager(store, lease.WithDefaultDuration(15*time.Minute))
//
//	res, err := mgr.AcquireLock(ctx, lease.AcquireRequest{
//	    Key:          db.NewKey(db.ResourceTypeCourse, "course-1"),
//	    OwnerID:      "user-42",
//	    OwnerDisplay: "jane@example.com",
//	})
//	if err != nil {
//	    // Handle error (store unavailable, invalid request)
//	}
//	if !res.Ok() {
//	    fmt.Printf("locked by %s until %s\n", res.Record.OwnerDisplay, res.Record.ExpiresAt)
//	    return
//	}
//
//	// edit the resource ...
//
//	_, err = mgr.ReleaseLock(ctx, res.Record.Key, "user-42")
//
// Performance Impact:
//
//	Lock operations require 1-3 store operations each:
//	- CheckLock: One FindByKey (plus one DeleteByKey for an expired record)
//	- AcquireLock: One FindByKey and one conditional write (two for a reclaim)
//	- ReleaseLock: One FindByKey followed by a conditional DeleteByKey
//
//	The performance characteristics therefore depend primarily on the
//	underlying store implementation.
package lease
