// Package serializer encodes common.Message values for the RPC transports.
//
// Implementations:
//
//   - NewBinarySerializer: custom format, a message type byte and a 16 bit field mask
//     followed by the present fields only. Smallest and fastest, the default.
//
//   - NewJSONSerializer: encoding/json with message types as names (e.g. "lock.acquire").
//     Useful for debugging and for clients in other languages.
//
//   - NewGOBSerializer: encoding/gob. Larger and slower than both others; kept for
//     comparison in the benchmarks.
//
// All serializers are stateless and safe for concurrent use.
package serializer
