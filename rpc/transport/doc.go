// Package transport defines the interfaces for moving opaque RPC payloads between
// dLock clients and servers. Payloads are routed by shard id, the transports never
// look into them.
//
// Implementations: tcp and unix (framed, see package base) and http.
package transport
