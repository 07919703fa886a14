package transport_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

type transportCase struct {
	name     string
	network  string // used to wait for the listener
	endpoint func(t *testing.T) string
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("no free port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

var cases = []transportCase{
	{
		name:     "tcp",
		network:  "tcp",
		endpoint: freeTCPAddr,
		server:   tcp.NewTCPDefaultServerTransport,
		client:   tcp.NewTCPClientTransport,
	},
	{
		name:    "unix",
		network: "unix",
		endpoint: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "dlock.sock")
		},
		server: unix.NewUnixDefaultServerTransport,
		client: unix.NewUnixClientTransport,
	},
	{
		name:     "http",
		network:  "tcp",
		endpoint: freeTCPAddr,
		server:   http.NewHttpServerTransport,
		client:   http.NewHttpClientTransport,
	},
}

// echo answers "<shard>:<request>"
func echo(shardId uint64, req []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
}

func start(t *testing.T, tc transportCase, handler transport.ServerHandleFunc) transport.IRPCClientTransport {
	t.Helper()
	endpoint := tc.endpoint(t)

	srv := tc.server()
	srv.RegisterHandler(handler)
	go func() {
		_ = srv.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport: common.ServerTransportConfig{
				Endpoint:       endpoint,
				WorkersPerConn: 4,
				TCPConf:        common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
			},
		})
	}()
	t.Cleanup(func() { _ = srv.Close() })

	// wait for the listener
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial(tc.network, endpoint)
		if err == nil {
			_ = conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s server did not start: %v", tc.name, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	client := tc.client()
	err := client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             2,
			ConnectionsPerEndpoint: 2,
			TCPConf:                common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := start(t, tc, echo)

			resp, err := client.Send(context.Background(), 7, []byte("ping"))
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if string(resp) != "7:ping" {
				t.Errorf("Send = %q, want %q", resp, "7:ping")
			}

			// empty payloads are valid frames
			resp, err = client.Send(context.Background(), 1, nil)
			if err != nil || string(resp) != "1:" {
				t.Errorf("empty Send = %q, %v", resp, err)
			}
		})
	}
}

func TestConcurrentSend(t *testing.T) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := start(t, tc, echo)

			const workers = 32
			var wg sync.WaitGroup
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func(i int) {
					defer wg.Done()
					req := bytes.Repeat([]byte{byte('a' + i%26)}, 100+i)
					resp, err := client.Send(context.Background(), uint64(i), req)
					if err != nil {
						t.Errorf("Send %d: %v", i, err)
						return
					}
					if want := append([]byte(fmt.Sprintf("%d:", i)), req...); !bytes.Equal(resp, want) {
						t.Errorf("Send %d: response belongs to another request", i)
					}
				}(i)
			}
			wg.Wait()
		})
	}
}

func TestCancelledContext(t *testing.T) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := start(t, tc, echo)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, err := client.Send(ctx, 1, []byte("x")); !errors.Is(err, context.Canceled) {
				t.Errorf("Send with cancelled context = %v, want context.Canceled", err)
			}
		})
	}
}

func TestSlowHandlerTimesOut(t *testing.T) {
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			release := make(chan struct{})
			client := start(t, tc, func(shardId uint64, req []byte) []byte {
				<-release
				return nil
			})
			// runs before the server is closed
			t.Cleanup(func() { close(release) })

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if _, err := client.Send(ctx, 1, []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Send to a stuck server = %v, want context.DeadlineExceeded", err)
			}
		})
	}
}

func TestConnectWithoutEndpoints(t *testing.T) {
	for _, tc := range cases {
		if err := tc.client().Connect(common.ClientConfig{}); err == nil {
			t.Errorf("%s: Connect without endpoints should fail", tc.name)
		}
	}
}
