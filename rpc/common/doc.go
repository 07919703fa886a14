// Package common holds the types shared by the dLock RPC packages.
//
//   - Message and MessageType: the single message structure used for every request and
//     response, with constructors for each operation. Records travel binary encoded, time
//     stamps as unix nanoseconds.
//
//   - ErrKind: classifies the error of a response, so that a client rebuilds an error
//     matching the same sentinels (lease.ErrInvalidOwner, store.ErrUnavailable, ...) as
//     the error on the server.
//
//   - ServerConfig and ClientConfig: configuration of the server (shards, transport,
//     Raft, redis, leases, REST api) and of the clients. ServerConfig converts to the
//     Dragonboat configuration types.
//
//   - InitLoggers: configures the Dragonboat loggers and those of dLock.
package common
