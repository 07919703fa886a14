package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/alicebob/miniredis/v2"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

var course = db.NewKey(db.ResourceTypeCourse, "course-1")

func newTestServer(t *testing.T, shards string, mutate func(*common.ServerConfig)) *RPCServer {
	t.Helper()
	parsed, err := common.ParseShards(shards)
	if err != nil {
		t.Fatalf("ParseShards: %v", err)
	}

	dir, err := os.MkdirTemp("", "dlock")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	config := common.ServerConfig{
		Shards:        parsed,
		TimeoutSecond: 5,
		LogLevel:      "error",
		Transport: common.ServerTransportConfig{
			Endpoint:       filepath.Join(dir, "rpc.sock"),
			WorkersPerConn: 4,
		},
	}
	if mutate != nil {
		mutate(&config)
	}

	s := NewRPCServer(config, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// call serializes req, passes it to the transport handler and decodes the response
func call(t *testing.T, s *RPCServer, shardId uint64, req *common.Message) *common.Message {
	t.Helper()
	data, err := s.serializer.Serialize(*req)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var resp common.Message
	if err := s.serializer.Deserialize(s.handle(shardId, data), &resp); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	return &resp
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

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func TestHandleDispatch(t *testing.T) {
	s := newTestServer(t, "1=lockmgr(lstore),2=lstore", nil)
	if err := s.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	t.Run("LockManagerShard", func(t *testing.T) {
		resp := call(t, s, 1, common.NewAcquireRequest(course, "A", "Alice", db.ModeWrite, time.Minute))
		if resp.Error() != nil || resp.MsgType != common.MsgTLockAcquire || !resp.Ok {
			t.Fatalf("acquire = %+v", resp)
		}
		rec, ok, err := resp.Record()
		if err != nil || !ok || rec.OwnerDisplay != "Alice" {
			t.Errorf("acquired record = %+v, %v, %v", rec, ok, err)
		}
	})

	t.Run("StoreShard", func(t *testing.T) {
		// shards do not share state
		resp := call(t, s, 2, common.NewFindRequest(course))
		if resp.Error() != nil || resp.Ok {
			t.Errorf("find on store shard = %+v", resp)
		}
	})

	t.Run("WrongInterface", func(t *testing.T) {
		resp := call(t, s, 2, common.NewCheckRequest(course))
		if resp.MsgType != common.MsgTError || resp.ErrKind != common.ErrKindUnsupported {
			t.Errorf("lock request on store shard = %+v", resp)
		}
	})

	t.Run("UnknownShard", func(t *testing.T) {
		resp := call(t, s, 42, common.NewCheckRequest(course))
		if resp.MsgType != common.MsgTError || !strings.Contains(resp.Err, "shard 42 not found") {
			t.Errorf("unknown shard = %+v", resp)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		var resp common.Message
		if err := s.serializer.Deserialize(s.handle(1, []byte{1}), &resp); err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		if resp.MsgType != common.MsgTError || resp.ErrKind != common.ErrKindInvalidOperation {
			t.Errorf("garbage request = %+v", resp)
		}
	})
}

func TestLeaseOptions(t *testing.T) {
	s := newTestServer(t, "1=lockmgr(lstore)", func(c *common.ServerConfig) {
		c.Lease.ResourceTypes = []string{"Course"}
		c.Lease.MaxDuration = time.Hour
	})
	if err := s.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	resp := call(t, s, 1, common.NewAcquireRequest(db.NewKey("Exam", "e1"), "A", "", db.ModeWrite, 0))
	if resp.ErrKind != common.ErrKindInvalidKey {
		t.Errorf("disallowed resource type = %+v", resp)
	}

	resp = call(t, s, 1, common.NewAcquireRequest(course, "A", "", db.ModeWrite, 48*time.Hour))
	rec, _, _ := resp.Record()
	if got := rec.ExpiresAt.Sub(rec.AcquiredAt); got != time.Hour {
		t.Errorf("lease duration = %s, want capped to 1h", got)
	}
}

func TestRedisShards(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestServer(t, "3=lockmgr(rstore),4=rstore", func(c *common.ServerConfig) {
		c.RedisURL = "redis://" + mr.Addr()
		c.RedisPrefix = "test"
	})
	if err := s.init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	resp := call(t, s, 3, common.NewAcquireRequest(course, "A", "Alice", db.ModeWrite, time.Minute))
	if err := resp.Error(); err != nil {
		t.Fatalf("acquire on redis shard: %v", err)
	}

	// every shard has its own key space
	var shard3 bool
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "test:3:") {
			shard3 = true
		}
		if strings.HasPrefix(key, "test:4:") {
			t.Errorf("shard 4 wrote %q", key)
		}
	}
	if !shard3 {
		t.Errorf("no keys with prefix test:3: in %v", mr.Keys())
	}

	if resp := call(t, s, 4, common.NewFindRequest(course)); resp.Ok {
		t.Errorf("record of shard 3 visible on shard 4")
	}
}

func TestServeWithRestAndSweeper(t *testing.T) {
	restAddr := freeTCPAddr(t)
	s := newTestServer(t, "1=lstore,2=lockmgr(lstore)", func(c *common.ServerConfig) {
		c.RestEndpoint = restAddr
		c.Lease.SweepInterval = 20 * time.Millisecond
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()

	// wait for the REST api
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + restAddr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rest api did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the REST api serves the first lock manager shard
	resp, err := http.Post("http://"+restAddr+"/locks/Course/course-1", "application/json",
		strings.NewReader(`{"owner_id":"A","duration_minutes":0.001}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("acquire over REST = %d, want 201", resp.StatusCode)
	}

	shard, _ := s.shards.Load(2)
	if _, found, _ := shard.Store.FindByKey(context.Background(), course); !found {
		t.Fatalf("lock not stored in shard 2")
	}

	// the 60ms lease is removed by the sweeper
	deadline = time.Now().Add(2 * time.Second)
	for {
		_, found, err := shard.Store.FindByKey(context.Background(), course)
		if err == nil && !found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired lease was not swept")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after Close")
	}
	// closing twice is fine
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRestShardMustBeLockManager(t *testing.T) {
	s := newTestServer(t, "1=lstore", func(c *common.ServerConfig) {
		c.RestEndpoint = "127.0.0.1:0"
	})
	if err := s.Serve(); err == nil {
		t.Errorf("Serve without lock manager shard should fail when REST is enabled")
	}
}

func TestSeveralServersInOneProcess(t *testing.T) {
	for i := 0; i < 3; i++ {
		s := newTestServer(t, "1=lockmgr(lstore)", nil)
		if err := s.init(); err != nil {
			t.Fatalf("init of server %d: %v", i, err)
		}
		if resp := call(t, s, 1, common.NewCheckRequest(course)); resp.Error() != nil {
			t.Errorf("server %d: check = %v", i, resp.Error())
		}
	}
}
