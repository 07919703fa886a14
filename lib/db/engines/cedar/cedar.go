package cedar

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/cedar/internal"
	"github.com/ValentinKolb/dLock/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for table behavior and structure
const (
	magicNum     = "CEDARDB\x00" // File format identifier
	cedarVersion = 1             // Table version
)

// --------------------------------------------------------------------------
// Core Cedar lock table structure
// --------------------------------------------------------------------------

// cedarImpl implements a sharded in-memory lock table
//
// Load swaps the whole shard slice at once. Readers always see either the old or the
// new table, but a write racing with Load may land in the discarded one. Callers
// (the raft state machine recovering from a snapshot) must not write during Load.
type cedarImpl struct {
	numShards int                               // Number of shards
	seed      uint64                            // Seed for hash function
	shards    atomic.Pointer[[]*internal.Shard] // Array of shards
}

// DBOptions configures the cedarImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default cedarImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewCedarDB creates a new lock table with the specified options (optional)
func NewCedarDB(opts *DBOptions) db.ILockTable {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}

	cedar := &cedarImpl{
		numShards: opts.NumShards,
		seed:      util.GenerateSeed(),
	}
	shards := newShards(opts.NumShards)
	cedar.shards.Store(&shards)
	return cedar
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard that owns the given rendered key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) shardFor(k string) *internal.Shard {
	return internal.GetShard(util.HashString(k, cedar.seed), cedar.shardList())
}

// shardList returns the current shards
func (cedar *cedarImpl) shardList() []*internal.Shard {
	return *cedar.shards.Load()
}

// --------------------------------------------------------------------------
// ILockTable Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Insert stores rec if its key is free.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) Insert(rec db.Record) bool {
	k := rec.Key.String()
	shard := cedar.shardFor(k)

	shard.Mu.Lock()
	defer shard.Mu.Unlock()

	if _, exists := shard.Data.Load(k); exists {
		return false
	}
	shard.Put(rec)
	return true
}

// Update rewrites the record for key if it still carries recordID.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) Update(key db.Key, recordID string, upd db.Update) bool {
	k := key.String()
	shard := cedar.shardFor(k)

	shard.Mu.Lock()
	defer shard.Mu.Unlock()

	rec, exists := shard.Data.Load(k)
	if !exists || rec.ID != recordID {
		return false
	}
	shard.Put(upd.Apply(rec))
	return true
}

// Delete removes the record for key if it matches cond.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) Delete(key db.Key, cond db.Condition) bool {
	k := key.String()
	shard := cedar.shardFor(k)

	shard.Mu.Lock()
	defer shard.Mu.Unlock()

	rec, exists := shard.Data.Load(k)
	if !exists || !cond.Matches(rec) {
		return false
	}
	shard.Remove(k)
	return true
}

// DeleteByOwner removes every record held by ownerID.
// Shards are processed one after another, so the result is not a consistent cut
// across shards. Every single removal is atomic.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) DeleteByOwner(ownerID string) int {
	count := 0
	for _, shard := range cedar.shardList() {
		shard.Mu.Lock()
		var keys []string
		shard.Data.Range(func(k string, rec db.Record) bool {
			if rec.OwnerID == ownerID {
				keys = append(keys, k)
			}
			return true
		})
		for _, k := range keys {
			shard.Remove(k)
		}
		count += len(keys)
		shard.Mu.Unlock()
	}
	return count
}

// DeleteExpired removes every record with ExpiresAt <= at.
// The expiry index yields the candidates; each one is re-checked against the
// stored record before it is removed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) DeleteExpired(at time.Time) int {
	deadline := at.UnixNano()
	count := 0
	for _, shard := range cedar.shardList() {
		shard.Mu.Lock()
		for {
			item, exists := shard.Expiry.Peek()
			if !exists || item.Priority > deadline {
				break
			}
			shard.Expiry.PopMin()

			rec, loaded := shard.Data.Load(item.Key)
			if !loaded {
				continue
			}
			if !rec.Expired(at) {
				// stale index entry, track the record again under its real expiry
				shard.Expiry.AddItem(item.Key, rec.ExpiresAt.UnixNano())
				continue
			}
			shard.Data.Delete(item.Key)
			count++
		}
		shard.Mu.Unlock()
	}
	return count
}

// --------------------------------------------------------------------------
// ILockTable Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get returns the record stored for key, live or expired.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) Get(key db.Key) (db.Record, bool) {
	k := key.String()
	return cedar.shardFor(k).Data.Load(k)
}

// ListByOwner returns the records held by ownerID.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (cedar *cedarImpl) ListByOwner(ownerID string) []db.Record {
	var recs []db.Record
	for _, shard := range cedar.shardList() {
		shard.Data.Range(func(_ string, rec db.Record) bool {
			if rec.OwnerID == ownerID {
				recs = append(recs, rec)
			}
			return true
		})
	}
	return recs
}

// Len returns the number of stored records.
func (cedar *cedarImpl) Len() int {
	n := 0
	for _, shard := range cedar.shardList() {
		n += shard.Data.Size()
	}
	return n
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the table to the writer.
// Each shard is copied under its lock; the shards are not frozen together,
// so callers that need a consistent cut must stop writers first (the raft state
// machine does this by serializing Save with Update).
func (cedar *cedarImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	var recs []db.Record
	for _, shard := range cedar.shardList() {
		shard.Mu.Lock()
		shard.Data.Range(func(_ string, rec db.Record) bool {
			recs = append(recs, rec)
			return true
		})
		shard.Mu.Unlock()
	}

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(cedarVersion)); err != nil {
		return err
	}

	// Write total record count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(recs))); err != nil {
		return err
	}

	for _, rec := range recs {
		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the table content with the snapshot read from r.
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (cedar *cedarImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != cedarVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, cedarVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Build into fresh shards so a failed load leaves the old state untouched
	shards := newShards(cedar.numShards)
	for i := uint64(0); i < count; i++ {
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return err
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return err
		}
		var rec db.Record
		if err := rec.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		k := rec.Key.String()
		internal.GetShard(util.HashString(k, cedar.seed), shards).Put(rec)
	}

	cedar.shards.Store(&shards)
	return nil
}

// --------------------------------------------------------------------------
// ILockTable Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the table
func (cedar *cedarImpl) GetInfo() db.TableInfo {
	shards := cedar.shardList()
	shardSizes := make([]float64, len(shards))
	indexed := 0
	records := 0
	for i, shard := range shards {
		shard.Mu.Lock()
		size := shard.Data.Size()
		indexed += shard.Expiry.Len()
		shard.Mu.Unlock()

		shardSizes[i] = float64(size)
		records += size
	}

	meta := &struct {
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		ExpiryIndexSize   int                    `json:"expiry_index_size"`
	}{
		ShardCount:        len(shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		ExpiryIndexSize:   indexed,
	}

	return db.TableInfo{
		Records:           records,
		DbType:            db.ImplCedar,
		SupportedFeatures: []db.Feature{db.FeatureSave, db.FeatureLoad, db.FeatureExpiryIndex},
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific feature
func (cedar *cedarImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureSave | db.FeatureLoad | db.FeatureExpiryIndex
	return supportedFeatures&feature == feature
}

// Close is a no-op, the table holds no background resources
func (cedar *cedarImpl) Close() error {
	return nil
}
