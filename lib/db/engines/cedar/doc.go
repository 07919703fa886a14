// Package cedar implements an in-memory lock table (db.ILockTable) built for
// many concurrent readers and short conditional writes.
//
// Key Components:
//
//   - cedarImpl: The table itself. It splits the key space into shards and routes
//     every key with a seeded FNV-1a hash (util.HashString), so that the layout
//     differs between instances.
//
//   - Shard: A partition holding an xsync.MapOf of records, a mutex and an expiry
//     index (util.MapHeap keyed by the rendered key, ordered by ExpiresAt).
//     Reads (Get, ListByOwner, Len) never take the mutex. Writes take it, which makes
//     the check and the write of Insert, Update and Delete one atomic step and keeps
//     the expiry index in sync with the records.
//
// Expiry:
//
//	The table has no background goroutine. DeleteExpired(at) pops index entries with
//	a priority <= at, re-checks each against the stored record and removes the record
//	if it is still expired. An index entry that turned out stale is pushed back with the
//	record's current expiry. Time only enters through the caller, which keeps the
//	engine deterministic when driven by a replicated log.
//
// Persistence Format:
//
//  1. Magic number "CEDARDB\x00"
//  2. Version number (currently 1)
//  3. Number of records
//  4. For each record: 4 byte length followed by the db.Record binary encoding
//
// Save copies one shard at a time, so it is a fuzzy snapshot unless writers are paused.
// Load builds a fresh set of shards and swaps them in only after the whole snapshot was read.
package cedar
