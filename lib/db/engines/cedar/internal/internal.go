package internal

import (
	"sync"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Type (partition of the lock table)
// --------------------------------------------------------------------------

// Shard represents a partition of the lock table.
//
// Reads go straight to Data. Every write takes Mu, so that the check and the
// write of a conditional operation and the matching Expiry update happen as one step.
type Shard struct {
	Mu     sync.Mutex
	Data   *xsync.MapOf[string, db.Record] // records by Key.String()
	Expiry *util.MapHeap[string]           // Key.String() -> ExpiresAt in unix nanos
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data:   xsync.NewMapOf[string, db.Record](),
		Expiry: util.NewMapHeap[string](),
	}
}

// Put stores rec and moves its expiry index entry.
// The caller must hold Mu.
func (s *Shard) Put(rec db.Record) {
	k := rec.Key.String()
	s.Data.Store(k, rec)
	s.Expiry.AddItem(k, rec.ExpiresAt.UnixNano())
}

// Remove drops the record for k and its expiry index entry.
// The caller must hold Mu.
func (s *Shard) Remove(k string) {
	s.Data.Delete(k)
	s.Expiry.RemoveByKey(k)
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
