package internal

import "github.com/ValentinKolb/dLock/lib/db"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTFind        QueryType = iota // Retrieve the record of a key.
	QueryTListByOwner                  // Retrieve all records of an owner.
	QueryTGetInfo                      // Retrieve metadata about the lock table underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTFind:
		return "Find"
	case QueryTListByOwner:
		return "ListByOwner"
	case QueryTGetInfo:
		return "GetInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Queries never enter the raft log and therefore need no serialization.
type Query struct {
	Type    QueryType // The type of Query to perform.
	Key     db.Key    // The key for QueryTFind.
	OwnerID string    // The owner for QueryTListByOwner.
}
