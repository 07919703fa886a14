package common

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store"
)

// ErrKind classifies the error carried by a response, so the client can rebuild
// an error that matches the same sentinels (errors.Is) as the server side error.
type ErrKind uint8

const (
	ErrKindNone ErrKind = iota
	ErrKindInternal
	ErrKindUnavailable
	ErrKindInvalidOperation
	ErrKindUnsupported
	ErrKindStoreUnavailable // lease.ErrStoreUnavailable
	ErrKindInvalidKey
	ErrKindInvalidOwner
	ErrKindInvalidMode
	ErrKindContention
	ErrKindStoreFault // lease.ErrStoreUnavailable caused by a store error other than RetCUnavailable
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNone:
		return "none"
	case ErrKindInternal:
		return "internal"
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindInvalidOperation:
		return "invalid_operation"
	case ErrKindUnsupported:
		return "unsupported"
	case ErrKindStoreUnavailable:
		return "store_unavailable"
	case ErrKindInvalidKey:
		return "invalid_key"
	case ErrKindInvalidOwner:
		return "invalid_owner"
	case ErrKindInvalidMode:
		return "invalid_mode"
	case ErrKindContention:
		return "contention"
	case ErrKindStoreFault:
		return "store_fault"
	default:
		return fmt.Sprintf("ErrKind(%d)", k)
	}
}

// leaseSentinels is checked in order; ErrStoreUnavailable first since it also
// wraps the underlying store error.
var leaseSentinels = []struct {
	err  error
	kind ErrKind
}{
	{lease.ErrStoreUnavailable, ErrKindStoreUnavailable},
	{lease.ErrInvalidKey, ErrKindInvalidKey},
	{lease.ErrInvalidOwner, ErrKindInvalidOwner},
	{lease.ErrInvalidMode, ErrKindInvalidMode},
	{lease.ErrContention, ErrKindContention},
}

// KindOf returns the kind of err (ErrKindNone for nil)
func KindOf(err error) ErrKind {
	if err == nil {
		return ErrKindNone
	}
	for _, s := range leaseSentinels {
		if errors.Is(err, s.err) {
			if s.kind == ErrKindStoreUnavailable && !errors.Is(err, store.ErrUnavailable) {
				return ErrKindStoreFault
			}
			return s.kind
		}
	}
	var serr *store.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case store.RetCUnavailable:
			return ErrKindUnavailable
		case store.RetCInvalidOperation:
			return ErrKindInvalidOperation
		case store.RetCUnsupportedOperation:
			return ErrKindUnsupported
		}
	}
	return ErrKindInternal
}

// Err rebuilds an error of this kind with the remote message msg.
// It returns nil for ErrKindNone.
func (k ErrKind) Err(msg string) error {
	switch k {
	case ErrKindNone:
		return nil
	case ErrKindUnavailable:
		return store.NewError(store.RetCUnavailable, msg)
	case ErrKindInvalidOperation:
		return store.NewError(store.RetCInvalidOperation, msg)
	case ErrKindUnsupported:
		return store.NewError(store.RetCUnsupportedOperation, msg)
	case ErrKindStoreUnavailable:
		return &remoteError{msg: msg, causes: []error{lease.ErrStoreUnavailable, store.ErrUnavailable}}
	case ErrKindStoreFault:
		return &remoteError{msg: msg, causes: []error{lease.ErrStoreUnavailable, store.ErrInternal}}
	}
	for _, s := range leaseSentinels {
		if s.kind == k {
			return &remoteError{msg: msg, causes: []error{s.err}}
		}
	}
	return store.NewError(store.RetCInternalError, msg)
}

// remoteError keeps the message of the server side error and matches its sentinels
type remoteError struct {
	msg    string
	causes []error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() []error { return e.causes }
