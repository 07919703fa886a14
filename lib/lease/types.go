package lease

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Check
// --------------------------------------------------------------------------

// Status is the result of CheckLock.
// Record is only set if Locked is true.
type Status struct {
	Locked bool      `json:"locked"`
	Record db.Record `json:"record"`
}

// --------------------------------------------------------------------------
// Acquire
// --------------------------------------------------------------------------

// AcquireRequest holds the arguments of AcquireLock.
type AcquireRequest struct {
	Key          db.Key
	OwnerID      string
	OwnerDisplay string
	Mode         db.Mode
	Duration     time.Duration // <= 0 selects the default lease duration
}

// AcquireCode is the outcome of AcquireLock.
type AcquireCode uint8

const (
	// AcquireAcquired means the key was free and a new lease was created.
	AcquireAcquired AcquireCode = iota
	// AcquireRefreshed means the caller already held the lease and it was extended.
	AcquireRefreshed
	// AcquireReclaimed means an expired lease of another owner was replaced.
	AcquireReclaimed
	// AcquireConflict means another owner holds a live lease.
	AcquireConflict
)

func (c AcquireCode) String() string {
	switch c {
	case AcquireAcquired:
		return "acquired"
	case AcquireRefreshed:
		return "refreshed"
	case AcquireReclaimed:
		return "reclaimed"
	case AcquireConflict:
		return "conflict"
	default:
		return fmt.Sprintf("AcquireCode(%d)", c)
	}
}

// ParseAcquireCode is the inverse of AcquireCode.String.
func ParseAcquireCode(s string) (AcquireCode, error) {
	for c := AcquireAcquired; c <= AcquireConflict; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return AcquireConflict, fmt.Errorf("invalid acquire code %q", s)
}

// AcquireResult is the result of AcquireLock.
//
// On success Record is the lease now held by the caller.
// On conflict Record is the lease of the current holder.
type AcquireResult struct {
	Code   AcquireCode `json:"code"`
	Record db.Record   `json:"record"`
}

// Ok reports whether the caller holds the lease after the call.
func (r AcquireResult) Ok() bool {
	return r.Code != AcquireConflict
}

// --------------------------------------------------------------------------
// Release
// --------------------------------------------------------------------------

// ReleaseReason tells why a release did or did not delete a lease.
type ReleaseReason uint8

const (
	ReleaseReleased ReleaseReason = iota
	ReleaseNotFound
	ReleaseNotOwner
)

func (r ReleaseReason) String() string {
	switch r {
	case ReleaseReleased:
		return "released"
	case ReleaseNotFound:
		return "not_found"
	case ReleaseNotOwner:
		return "not_owner"
	default:
		return fmt.Sprintf("ReleaseReason(%d)", r)
	}
}

// ParseReleaseReason is the inverse of ReleaseReason.String.
func ParseReleaseReason(s string) (ReleaseReason, error) {
	for r := ReleaseReleased; r <= ReleaseNotOwner; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return ReleaseNotFound, fmt.Errorf("invalid release reason %q", s)
}

// ReleaseResult is the result of ReleaseLock and ForceRelease.
type ReleaseResult struct {
	Success bool          `json:"success"`
	Reason  ReleaseReason `json:"reason"`
}

func released() ReleaseResult { return ReleaseResult{Success: true, Reason: ReleaseReleased} }

func notReleased(reason ReleaseReason) ReleaseResult {
	return ReleaseResult{Success: false, Reason: reason}
}
