package db

import (
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplCedar Implementation = "cedar"
	ImplRedis Implementation = "redis" // reported by stores that keep records in redis instead of an engine
)

// Feature represents lock table features as bit flags
type Feature uint64

const (
	FeatureSave        Feature = 1 << iota // Support for Save operations
	FeatureLoad                            // Support for Load operations
	FeatureExpiryIndex                     // DeleteExpired uses an index instead of a full scan
)

func (f Feature) String() string {
	switch f {
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureExpiryIndex:
		return "ExpiryIndex"
	default:
		return "Unknown"
	}
}

type TableInfo struct {
	Records           int            `json:"records"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Lock Table Interface
// --------------------------------------------------------------------------

// ILockTable defines the interface for lock table engines.
// A lock table holds at most one Record per Key. All conditional write operations
// must be atomic with respect to other operations on the same key.
//
// The table does not interpret lease time on its own. A record whose ExpiresAt lies
// in the past is still returned by Get; only the time-based deletion (DeleteExpired)
// compares timestamps, and it does so against the timestamp given by the caller.
type ILockTable interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Insert stores the record if no record exists for its key.
	// Returns false (and leaves the table unchanged) if the key is taken.
	Insert(rec Record) (inserted bool)

	// Update modifies the record for key in place, but only if the stored record still
	// has the given recordID. Returns false if no such record exists.
	Update(key Key, recordID string, upd Update) (updated bool)

	// Delete removes the record for key if it matches cond.
	Delete(key Key, cond Condition) (deleted bool)

	// DeleteByOwner removes every record owned by ownerID and returns the count.
	DeleteByOwner(ownerID string) (count int)

	// DeleteExpired removes every record that is expired at the given instant
	// (ExpiresAt <= at). Each record is re-checked at the moment it is removed.
	DeleteExpired(at time.Time) (count int)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the record for key. The boolean indicates whether a record was found.
	Get(key Key) (rec Record, loaded bool)

	// ListByOwner returns all records held by ownerID (in no particular order).
	ListByOwner(ownerID string) (recs []Record)

	// Len returns the number of records in the table.
	Len() int

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the table to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load replaces the table state with data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the table.
	GetInfo() (info TableInfo)

	// Close releases all resources of the table.
	Close() (err error)
}
