// Package base implements the framed transport shared by the tcp and unix transports.
// Protocol specific parts (dialing, listening, socket options) are injected through
// IClientConnector and IServerConnector.
//
// Every frame starts with a 20 byte header: shard id (8 bytes), request id (8 bytes)
// and payload length (4 bytes), all big endian. The client multiplexes concurrent
// requests over a small pool of connections and correlates responses by request id,
// so responses may arrive in any order.
//
// Client:
//
//   - ConnectionsPerEndpoint connections per endpoint, chosen round robin.
//   - A request waits for its response until the configured timeout or until its
//     context is done. Failed attempts are retried RetryCount times in total with
//     exponential backoff; a broken connection is re-established in the background.
//
// Server:
//
//   - One goroutine reads frames per connection, at most WorkersPerConn requests of a
//     connection are handled at the same time. Read buffers are pooled.
//   - Close stops accepting and closes all open connections.
package base
