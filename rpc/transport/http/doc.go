// Package http implements the RPC transport over plain HTTP.
//
// Every request is a POST to /{shardId} whose body is the serialized message, the
// response body is the serialized answer. The client spreads requests round robin
// over the configured endpoints and retries failed requests. It is slower than the
// framed transports, but passes through ordinary HTTP proxies and load balancers.
//
// LoggerMiddleware logs every request at debug level and is shared with the REST api.
package http
