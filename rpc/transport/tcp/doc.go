// Package tcp implements the RPC transport over TCP sockets on top of package base.
//
// Socket options (TCP_NODELAY, keep alive, linger, buffer sizes) are taken from the
// TCPConf and SocketConf of the client and server configuration. The default server
// read buffer is 64 KB.
package tcp
