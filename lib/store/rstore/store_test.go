package rstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/storetest"
	"github.com/alicebob/miniredis/v2"
)

// skipEval skips the test if the redis server does not support scripting
func skipEval(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		return
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unknown") && (strings.Contains(msg, "eval") || strings.Contains(msg, "script")) {
		t.Skipf("redis server does not support scripting: %v", err)
	}
}

func newTestStore(t *testing.T) (store.ILockStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), &Options{Prefix: "test"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}

	// probe scripting once so the suite is skipped instead of failing
	probe := db.Record{
		ID:         "probe",
		Key:        db.NewKey(db.ResourceTypeCourse, "probe"),
		OwnerID:    "probe",
		AcquiredAt: time.Unix(1, 0),
		ExpiresAt:  time.Unix(2, 0),
	}
	if _, err := s.InsertIfAbsent(context.Background(), probe); err != nil {
		s.Close()
		skipEval(t, err)
		t.Fatalf("probe insert: %v", err)
	}
	if _, err := s.DeleteByKey(context.Background(), probe.Key, db.Condition{}); err != nil {
		t.Fatalf("probe delete: %v", err)
	}
	return s, mr
}

func TestRedisStore(t *testing.T) {
	storetest.RunLockStoreTests(t, "RedisStore", func(t *testing.T) store.ILockStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 9, 0, 0, 5, time.UTC)
	rec := db.Record{
		ID:         "r1",
		Key:        db.NewKey(db.ResourceTypeCourse, "42"),
		OwnerID:    "alice",
		AcquiredAt: start,
		ExpiresAt:  start.Add(time.Minute),
	}
	if ok, err := s.InsertIfAbsent(ctx, rec); err != nil || !ok {
		t.Fatalf("InsertIfAbsent = %v, %v", ok, err)
	}

	if !mr.Exists("test:lock:Course/42") {
		t.Errorf("lock hash missing, keys: %v", mr.Keys())
	}
	if ok, _ := mr.SIsMember("test:owner:alice", "Course/42"); !ok {
		t.Errorf("owner set does not contain the key")
	}
	if got := mr.HGet("test:lock:Course/42", "acq"); got != padTime(start) || len(got) != 20 {
		t.Errorf("acq = %q, want %q", got, padTime(start))
	}
	// no redis ttl, expiry is handled by the sweeper
	if ttl := mr.TTL("test:lock:Course/42"); ttl != 0 {
		t.Errorf("lock hash has a ttl of %v", ttl)
	}
}

func TestSubMillisecondExpiry(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := db.Record{
		ID:         "r1",
		Key:        db.NewKey(db.ResourceTypeCourse, "1"),
		OwnerID:    "alice",
		AcquiredAt: start,
		ExpiresAt:  start.Add(time.Second + 500*time.Microsecond),
	}
	if _, err := s.InsertIfAbsent(ctx, rec); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}

	// same millisecond bucket, but still before expiresAt
	n, err := s.DeleteExpiredBefore(ctx, start.Add(time.Second+100*time.Microsecond))
	if err != nil || n != 0 {
		t.Fatalf("DeleteExpiredBefore before expiry = %d, %v", n, err)
	}
	n, err = s.DeleteExpiredBefore(ctx, rec.ExpiresAt)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredBefore at expiry = %d, %v", n, err)
	}
}

func TestUnavailable(t *testing.T) {
	s, mr := newTestStore(t)
	defer s.Close()

	mr.Close()

	_, _, err := s.FindByKey(context.Background(), db.NewKey(db.ResourceTypeCourse, "1"))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected unavailable error after the server went away, got %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	if _, err := NewRedisStore("redis://127.0.0.1:1", nil); err == nil {
		t.Errorf("connecting to a closed port should fail")
	}
	if _, err := NewRedisStore("not a url", nil); err == nil {
		t.Errorf("an invalid url should fail")
	}
}
