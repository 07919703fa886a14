// Package unix implements the RPC transport over Unix domain sockets on top of
// package base. It is meant for clients on the same host as the server.
package unix
