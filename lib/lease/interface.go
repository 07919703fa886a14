package lease

import (
	"context"

	"github.com/ValentinKolb/dLock/lib/db"
)

// ILockManager defines the interface of a lease lock manager.
//
// Conflict, NotFound and NotOwner are results, not errors. An error is returned only if the
// request is invalid (ErrInvalidKey, ErrInvalidOwner, ErrInvalidMode), the store failed
// (ErrStoreUnavailable) or the key kept changing under the manager (ErrContention).
type ILockManager interface {
	// CheckLock reports whether key is held by a live lease.
	// An expired record observed on the way is deleted.
	CheckLock(ctx context.Context, key db.Key) (Status, error)

	// AcquireLock creates, refreshes or reclaims the lease on req.Key for req.OwnerID.
	// If another owner holds a live lease, the result code is AcquireConflict and the
	// result carries the holder's record.
	AcquireLock(ctx context.Context, req AcquireRequest) (AcquireResult, error)

	// ReleaseLock deletes the lease on key if it is held by ownerID.
	ReleaseLock(ctx context.Context, key db.Key, ownerID string) (ReleaseResult, error)

	// ForceRelease deletes the lease on key regardless of owner and expiry.
	// Callers are responsible for checking that the requester is privileged.
	ForceRelease(ctx context.Context, key db.Key) (ReleaseResult, error)

	// ReleaseAllForOwner deletes every lease held by ownerID and returns how many were deleted.
	// The operation is not atomic; on failure the count deleted so far is returned with the error.
	ReleaseAllForOwner(ctx context.Context, ownerID string) (int, error)

	// SweepExpired deletes every lease that is expired now and returns how many were deleted.
	SweepExpired(ctx context.Context) (int, error)
}
