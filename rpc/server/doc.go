// Package server implements the RPC server of dLock.
// A server hosts any number of shards. Every shard is backed by a lock store and serves
// either the raw store or a lease lock manager on top of it.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface of all server adapters. Handle processes one decoded
//     request and returns the response message, errors are carried in the message.
//
//   - NewStoreServerAdapter: Translates store.* requests to store.ILockStore calls.
//
//   - NewLockManagerServerAdapter: Translates lock.* requests to lease.ILockManager calls.
//
//   - NewRPCServer: Creates a server with the given transport and serializer. Serve creates
//     the shards, starts the sweepers and the optional REST api and blocks in the transport.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalStore},
//	    {ShardID: 200, Type: common.ShardTypeLocalLockMgr},
//	  },
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  RestEndpoint:  "0.0.0.0:8081",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	defer s.Close()
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shard backends:
//
//   - lstore: in-memory store of this process.
//
//   - dstore: store replicated with Raft (Dragonboat). RTTMillisecond, SnapshotEntries,
//     CompactionOverhead, DataDir, ReplicaID and ClusterMembers must be configured.
//
//   - rstore: store kept in redis (RedisURL). Each shard uses its own key prefix
//     "<RedisPrefix>:<shard id>".
//
// A shard type of the form lockmgr(<backend>) serves a lock manager on that backend.
// All lock managers of a server share one metrics set, which the REST api exposes.
package server
