// Package internal provides the communication protocol structures and serialization
// logic for the dstore package. It defines the wire format used to transmit operations
// between the store client and the distributed state machine.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// The package consists of two main components:
//
//   - Command System: Defines write operations (Insert, Update, Delete, DeleteByOwner,
//     DeleteExpired) that modify the state of the lock table. Commands are serialized and proposed to the RAFT cluster,
//     executed on the state machine, and produce results that are returned to the client.
//     The Command structure includes efficient binary serialization.
//
//   - Query System: Defines read operations (Find, ListByOwner, GetInfo) that retrieve
//     records from the lock table without modifying its state. Queries are executed locally on the
//     statemachine and therefore do not require serialization.
//
// Protocol Design:
//
//	The Command serialization format is optimized for:
//
//	- Minimal Size: Commands use a compact binary encoding that minimizes the amount
//	  of data transmitted over the network and stored in the RAFT log.
//
//	- Efficient Parsing: The format is designed for fast serialization and deserialization
//	  with minimal allocations.
//
// Command Format:
//
//	Commands are serialized into a binary format with the following structure:
//
//	- 1 byte: Command type (Insert, Update, Delete, DeleteByOwner, DeleteExpired)
//	- 8 bytes: At instant (unix nanos, big endian, 0 for the zero time)
//	- N bytes: Record in the db.Record binary encoding
//
//	Commands carry every timestamp the state machine needs. Replicas never read
//	their own clock while applying a command, which keeps them deterministic.
//
// Query Format:
//
//	Queries are not persisted in the RAFT log and stay plain structs:
//
//	- Type: The query operation to perform (Find, ListByOwner, GetInfo)
//	- Key: The key to look up (QueryTFind)
//	- OwnerID: The owner to list (QueryTListByOwner)
//
// Thread Safety:
//
//	The types in this package are not thread-safe and should not be shared
//	across goroutines without external synchronization. However, this is not
//	typically an issue as the RAFT protocol ensures sequential processing of
//	commands on the state machine.
package internal
