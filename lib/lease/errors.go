package lease

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every fault reported by the lock store.
	// The manager never retries it; the original store error stays in the chain.
	ErrStoreUnavailable = errors.New("lock store unavailable")
	// ErrInvalidKey is returned for an empty key or a resource type that is not allowed.
	ErrInvalidKey = errors.New("invalid resource key")
	// ErrInvalidOwner is returned for an empty owner id.
	ErrInvalidOwner = errors.New("invalid owner id")
	// ErrInvalidMode is returned for a lock mode other than WRITE or READ.
	ErrInvalidMode = errors.New("invalid lock mode")
	// ErrContention is returned if the key changed on every attempt of an operation.
	ErrContention = errors.New("lock contention: key changed concurrently, retry")
)

// storeError wraps a store fault so that both errors.Is(err, ErrStoreUnavailable)
// and errors.Is(err, store.ErrUnavailable) keep working.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
