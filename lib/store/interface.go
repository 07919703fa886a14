package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// TableFactory is a function type that creates a new lock table used by the store.
// This is used to abstract the creation of the table from the store implementation.
type TableFactory func() db.ILockTable

// ILockStore is the persistence contract of the lock manager.
//
// The store holds at most one record per key and never interprets lease time on its own:
// an expired record is still returned by FindByKey. Every conditional write is atomic
// per key. The boolean results report whether the condition held; a false result is not
// an error. Errors are reserved for faults (unreachable backend, timeout, corrupt data)
// and are always of type *Error.
type ILockStore interface {
	// FindByKey returns the record stored for key, live or expired.
	FindByKey(ctx context.Context, key db.Key) (rec db.Record, found bool, err error)

	// ListByOwner returns all records held by ownerID (in no particular order).
	ListByOwner(ctx context.Context, ownerID string) (recs []db.Record, err error)

	// InsertIfAbsent stores rec if no record exists for rec.Key.
	InsertIfAbsent(ctx context.Context, rec db.Record) (inserted bool, err error)

	// UpdateInPlace applies upd to the record for key if that record still has recordID.
	UpdateInPlace(ctx context.Context, key db.Key, recordID string, upd db.Update) (updated bool, err error)

	// DeleteByKey removes the record for key if it matches cond.
	DeleteByKey(ctx context.Context, key db.Key, cond db.Condition) (deleted bool, err error)

	// DeleteByOwner removes every record held by ownerID and returns how many were removed.
	DeleteByOwner(ctx context.Context, ownerID string) (count int, err error)

	// DeleteExpiredBefore removes every record with ExpiresAt <= ts.
	// Expiry is re-checked per record at delete time, so a record refreshed
	// concurrently is never removed.
	DeleteExpiredBefore(ctx context.Context, ts time.Time) (count int, err error)

	// GetInfo returns metadata about the storage underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetInfo(ctx context.Context) (info db.TableInfo, err error)

	// Close releases the resources held by the store.
	Close() error
}

// ValidateRecord checks a record before it is written.
// It returns an *Error with RetCInvalidOperation if the record violates an invariant.
func ValidateRecord(rec db.Record) error {
	if err := rec.Validate(); err != nil {
		return NewError(RetCInvalidOperation, err.Error())
	}
	if rec.ID == "" {
		return NewError(RetCInvalidOperation, "record: id required")
	}
	return nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("LockStoreError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is an *Error with the same code,
// so that errors.Is(err, store.ErrUnavailable) matches any unavailable error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new LockStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromContext converts a context error into an unavailable store error.
// It returns nil if err is nil.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	return NewError(RetCUnavailable, err.Error())
}

var (
	// ErrUnavailable matches every error with RetCUnavailable.
	ErrUnavailable = NewError(RetCUnavailable, "store unavailable")
	// ErrInternal matches every error with RetCInternalError.
	ErrInternal = NewError(RetCInternalError, "internal store error")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying table.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCUnavailable                         // 4: Backend not reachable, busy or timed out.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
