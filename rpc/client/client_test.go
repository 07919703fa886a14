package client_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/storetest"
	"github.com/ValentinKolb/dLock/rpc/client"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/server"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

var course = db.NewKey(db.ResourceTypeCourse, "course-1")

// startServer starts an in-process server on a unix socket and returns the socket path
func startServer(t *testing.T, shards string) (string, *server.RPCServer) {
	t.Helper()

	// unix socket paths are limited in length, t.TempDir() contains the test name
	dir, err := os.MkdirTemp("", "dlock")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "rpc.sock")

	parsed, err := common.ParseShards(shards)
	if err != nil {
		t.Fatalf("ParseShards: %v", err)
	}
	srv := server.NewRPCServer(common.ServerConfig{
		Shards:        parsed,
		TimeoutSecond: 5,
		LogLevel:      "error",
		Transport: common.ServerTransportConfig{
			Endpoint:       socket,
			WorkersPerConn: 8,
		},
	}, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.Dial("unix", socket)
		if err == nil {
			_ = conn.Close()
			return socket, srv
		}
		select {
		case err := <-errCh:
			t.Fatalf("server stopped: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func clientConfig(socket string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 2,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{socket},
			RetryCount:             1,
			ConnectionsPerEndpoint: 2,
		},
	}
}

func newLockMgr(t *testing.T, socket string, shardId uint64) lease.ILockManager {
	t.Helper()
	tr := unix.NewUnixClientTransport()
	mgr, err := client.NewRPCLockMgr(shardId, clientConfig(socket), tr, serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCLockMgr: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return mgr
}

func acquire(t *testing.T, mgr lease.ILockManager, key db.Key, owner string, d time.Duration) lease.AcquireResult {
	t.Helper()
	res, err := mgr.AcquireLock(context.Background(), lease.AcquireRequest{
		Key:          key,
		OwnerID:      owner,
		OwnerDisplay: "Display " + owner,
		Duration:     d,
	})
	if err != nil {
		t.Fatalf("AcquireLock(%s): %v", owner, err)
	}
	return res
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestRPCStoreConformance(t *testing.T) {
	storetest.RunLockStoreTests(t, "RPCStore", func(t *testing.T) store.ILockStore {
		socket, _ := startServer(t, "1=lstore")
		s, err := client.NewRPCStore(1, clientConfig(socket), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
		if err != nil {
			t.Fatalf("NewRPCStore: %v", err)
		}
		return s
	})
}

func TestRPCLockManager(t *testing.T) {
	socket, _ := startServer(t, "1=lockmgr(lstore)")
	mgr := newLockMgr(t, socket, 1)
	ctx := context.Background()

	if res := acquire(t, mgr, course, "A", time.Minute); res.Code != lease.AcquireAcquired {
		t.Fatalf("A: got %s, want acquired", res.Code)
	}

	res := acquire(t, mgr, course, "B", time.Minute)
	if res.Code != lease.AcquireConflict || res.Record.OwnerDisplay != "Display A" {
		t.Fatalf("B: got %s held by %q, want conflict held by Display A", res.Code, res.Record.OwnerDisplay)
	}

	if res := acquire(t, mgr, course, "A", 2*time.Minute); res.Code != lease.AcquireRefreshed {
		t.Errorf("A again: got %s, want refreshed", res.Code)
	}

	st, err := mgr.CheckLock(ctx, course)
	if err != nil || !st.Locked || st.Record.OwnerID != "A" {
		t.Fatalf("CheckLock = %+v, %v", st, err)
	}

	rel, err := mgr.ReleaseLock(ctx, course, "B")
	if err != nil || rel.Success || rel.Reason != lease.ReleaseNotOwner {
		t.Errorf("release by B = %+v, %v", rel, err)
	}
	rel, err = mgr.ReleaseLock(ctx, course, "A")
	if err != nil || !rel.Success {
		t.Errorf("release by A = %+v, %v", rel, err)
	}
	if st, _ := mgr.CheckLock(ctx, course); st.Locked {
		t.Errorf("lock still held after release")
	}

	// bulk operations
	for _, id := range []string{"c1", "c2", "c3"} {
		acquire(t, mgr, db.NewKey(db.ResourceTypeCourse, id), "C", time.Minute)
	}
	if n, err := mgr.ReleaseAllForOwner(ctx, "C"); err != nil || n != 3 {
		t.Errorf("ReleaseAllForOwner = %d, %v, want 3", n, err)
	}

	acquire(t, mgr, course, "D", 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	if n, err := mgr.SweepExpired(ctx); err != nil || n != 1 {
		t.Errorf("SweepExpired = %d, %v, want 1", n, err)
	}

	acquire(t, mgr, course, "E", time.Minute)
	if rel, err := mgr.ForceRelease(ctx, course); err != nil || !rel.Success {
		t.Errorf("ForceRelease = %+v, %v", rel, err)
	}
}

func TestErrorsCrossTheWire(t *testing.T) {
	socket, _ := startServer(t, "1=lockmgr(lstore),2=lstore")
	mgr := newLockMgr(t, socket, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		req  lease.AcquireRequest
		want error
	}{
		{"InvalidOwner", lease.AcquireRequest{Key: course}, lease.ErrInvalidOwner},
		{"InvalidKey", lease.AcquireRequest{Key: db.NewKey(db.ResourceTypeCourse, ""), OwnerID: "A"}, lease.ErrInvalidKey},
		{"InvalidMode", lease.AcquireRequest{Key: course, OwnerID: "A", Mode: db.Mode(7)}, lease.ErrInvalidMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.AcquireLock(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("AcquireLock = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("UnknownShard", func(t *testing.T) {
		other := newLockMgr(t, socket, 99)
		if _, err := other.CheckLock(ctx, course); !errors.Is(err, lease.ErrStoreUnavailable) {
			t.Errorf("CheckLock on unknown shard = %v, want ErrStoreUnavailable", err)
		}
	})

	t.Run("StoreRequestOnLockShard", func(t *testing.T) {
		s, err := client.NewRPCStore(1, clientConfig(socket), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
		if err != nil {
			t.Fatalf("NewRPCStore: %v", err)
		}
		defer s.Close()

		_, _, err = s.FindByKey(ctx, course)
		var serr *store.Error
		if !errors.As(err, &serr) || serr.Code != store.RetCUnsupportedOperation {
			t.Errorf("FindByKey on a lock manager shard = %v, want unsupported operation", err)
		}
	})
}

func TestServerGone(t *testing.T) {
	socket, srv := startServer(t, "1=lockmgr(lstore)")
	mgr := newLockMgr(t, socket, 1)

	acquire(t, mgr, course, "A", time.Minute)
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := mgr.CheckLock(ctx, course); !errors.Is(err, lease.ErrStoreUnavailable) {
		t.Errorf("CheckLock after server close = %v, want ErrStoreUnavailable", err)
	}
}
