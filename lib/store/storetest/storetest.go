// Package storetest provides the conformance suite for store.ILockStore implementations.
//
// Usage:
//
//	storetest.RunLockStoreTests(t, "MyStore", func(t *testing.T) store.ILockStore {
//		return NewMyStore()
//	})
//
// The factory receives the subtest so it can register cleanups or skip
// (e.g. when a backend is not available).
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
)

// StoreFactory creates a fresh, empty store for one subtest
type StoreFactory func(t *testing.T) store.ILockStore

// base is the reference instant all suite records are built around
var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// RunLockStoreTests runs the conformance suite for an ILockStore implementation
func RunLockStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Find", func(t *testing.T) {
			testInsertFind(t, factory(t))
		})

		t.Run("InvalidRecord", func(t *testing.T) {
			testInvalidRecord(t, factory(t))
		})

		t.Run("UpdateInPlace", func(t *testing.T) {
			testUpdateInPlace(t, factory(t))
		})

		t.Run("DeleteByKey", func(t *testing.T) {
			testDeleteByKey(t, factory(t))
		})

		t.Run("Owner", func(t *testing.T) {
			testOwner(t, factory(t))
		})

		t.Run("DeleteExpiredBefore", func(t *testing.T) {
			testDeleteExpiredBefore(t, factory(t))
		})

		t.Run("ConcurrentInsert", func(t *testing.T) {
			testConcurrentInsert(t, factory(t))
		})

		t.Run("GetInfo", func(t *testing.T) {
			testGetInfo(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func record(id, owner string, ttl time.Duration) db.Record {
	return db.Record{
		ID:           fmt.Sprintf("rec-%s-%s", id, owner),
		Key:          db.NewKey(db.ResourceTypeCourse, id),
		OwnerID:      owner,
		OwnerDisplay: "Display " + owner,
		Mode:         db.ModeWrite,
		AcquiredAt:   base,
		ExpiresAt:    base.Add(ttl),
	}
}

func same(a, b db.Record) bool {
	return a.ID == b.ID &&
		a.Key == b.Key &&
		a.OwnerID == b.OwnerID &&
		a.OwnerDisplay == b.OwnerDisplay &&
		a.Mode == b.Mode &&
		a.AcquiredAt.Equal(b.AcquiredAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}

// mustBool, mustInt and mustRecords fail the test on a store error and return the value,
// e.g. mustBool(t)(s.InsertIfAbsent(ctx, rec))
func mustBool(t *testing.T) func(bool, error) bool {
	return func(v bool, err error) bool {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected store error: %v", err)
		}
		return v
	}
}

func mustInt(t *testing.T) func(int, error) int {
	return func(v int, err error) int {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected store error: %v", err)
		}
		return v
	}
}

func mustRecords(t *testing.T) func([]db.Record, error) []db.Record {
	return func(v []db.Record, err error) []db.Record {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected store error: %v", err)
		}
		return v
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertFind(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	rec := record("1", "alice", 15*time.Minute)
	rec.Mode = db.ModeRead
	rec.OwnerDisplay = "Alice Ängström"
	rec.AcquiredAt = base.Add(123456789 * time.Nanosecond)

	if _, found, err := s.FindByKey(ctx, rec.Key); err != nil || found {
		t.Fatalf("FindByKey on empty store = found %v, err %v", found, err)
	}

	if !mustBool(t)(s.InsertIfAbsent(ctx, rec)) {
		t.Fatalf("InsertIfAbsent into empty store should succeed")
	}

	got, found, err := s.FindByKey(ctx, rec.Key)
	if err != nil || !found {
		t.Fatalf("FindByKey after insert = found %v, err %v", found, err)
	}
	if !same(got, rec) {
		t.Errorf("FindByKey = %+v, want %+v", got, rec)
	}

	if mustBool(t)(s.InsertIfAbsent(ctx, record("1", "bob", time.Hour))) {
		t.Errorf("InsertIfAbsent on a taken key should fail")
	}
	got, _, _ = s.FindByKey(ctx, rec.Key)
	if got.OwnerID != "alice" {
		t.Errorf("failed insert changed the owner to %s", got.OwnerID)
	}

	// expired records are still reported
	old := record("2", "alice", time.Second)
	mustBool(t)(s.InsertIfAbsent(ctx, old))
	if _, found, _ := s.FindByKey(ctx, old.Key); !found {
		t.Errorf("store must not hide expired records")
	}
}

func testInvalidRecord(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	bad := record("1", "", time.Minute)
	_, err := s.InsertIfAbsent(ctx, bad)
	var serr *store.Error
	if !errors.As(err, &serr) || serr.Code != store.RetCInvalidOperation {
		t.Errorf("expected invalid operation error, got %v", err)
	}
	if _, found, _ := s.FindByKey(ctx, bad.Key); found {
		t.Errorf("invalid record must not be stored")
	}
}

func testUpdateInPlace(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	rec := record("1", "alice", time.Minute)
	mustBool(t)(s.InsertIfAbsent(ctx, rec))

	upd := db.Update{
		OwnerDisplay: "Alice (tab 2)",
		Mode:         db.ModeRead,
		AcquiredAt:   base.Add(10 * time.Minute),
		ExpiresAt:    base.Add(25 * time.Minute),
	}

	if mustBool(t)(s.UpdateInPlace(ctx, rec.Key, "stale-id", upd)) {
		t.Errorf("UpdateInPlace with a stale id should fail")
	}
	if mustBool(t)(s.UpdateInPlace(ctx, db.NewKey(db.ResourceTypeCourse, "missing"), rec.ID, upd)) {
		t.Errorf("UpdateInPlace on a missing key should fail")
	}
	if !mustBool(t)(s.UpdateInPlace(ctx, rec.Key, rec.ID, upd)) {
		t.Fatalf("UpdateInPlace with the current id should succeed")
	}

	got, _, _ := s.FindByKey(ctx, rec.Key)
	want := upd.Apply(rec)
	if !same(got, want) {
		t.Errorf("after update got %+v, want %+v", got, want)
	}

	// the refreshed expiry is what the sweep sees
	if n := mustInt(t)(s.DeleteExpiredBefore(ctx, base.Add(20*time.Minute))); n != 0 {
		t.Errorf("refreshed record swept at its old expiry, count %d", n)
	}
	if n := mustInt(t)(s.DeleteExpiredBefore(ctx, base.Add(25*time.Minute))); n != 1 {
		t.Errorf("refreshed record not swept at its new expiry, count %d", n)
	}
}

func testDeleteByKey(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	rec := record("1", "alice", time.Minute)
	mustBool(t)(s.InsertIfAbsent(ctx, rec))

	noMatch := []db.Condition{
		{OwnerID: "bob"},
		{RecordID: "other"},
		{ExpiredAt: base.Add(30 * time.Second)},
		{OwnerID: "alice", RecordID: "other"},
	}
	for _, cond := range noMatch {
		if mustBool(t)(s.DeleteByKey(ctx, rec.Key, cond)) {
			t.Errorf("DeleteByKey(%+v) should not match", cond)
		}
	}

	if !mustBool(t)(s.DeleteByKey(ctx, rec.Key, db.Condition{OwnerID: "alice", ExpiredAt: base.Add(time.Minute)})) {
		t.Errorf("DeleteByKey with matching owner at expiry should succeed")
	}
	if mustBool(t)(s.DeleteByKey(ctx, rec.Key, db.Condition{})) {
		t.Errorf("DeleteByKey on a missing key should return false")
	}

	// the key is free again and the owner index forgot it
	mustBool(t)(s.InsertIfAbsent(ctx, record("1", "bob", time.Minute)))
	if recs := mustRecords(t)(s.ListByOwner(ctx, "alice")); len(recs) != 0 {
		t.Errorf("alice should hold nothing, got %d records", len(recs))
	}
	if !mustBool(t)(s.DeleteByKey(ctx, rec.Key, db.Condition{})) {
		t.Errorf("unconditional DeleteByKey should succeed")
	}
}

func testOwner(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		owner := "alice"
		if i >= 4 {
			owner = "bob"
		}
		mustBool(t)(s.InsertIfAbsent(ctx, record(fmt.Sprintf("%d", i), owner, time.Minute)))
	}

	recs := mustRecords(t)(s.ListByOwner(ctx, "alice"))
	if len(recs) != 4 {
		t.Errorf("ListByOwner(alice) returned %d records, want 4", len(recs))
	}
	for _, rec := range recs {
		if rec.OwnerID != "alice" {
			t.Errorf("ListByOwner(alice) returned a record of %s", rec.OwnerID)
		}
	}

	if n := mustInt(t)(s.DeleteByOwner(ctx, "alice")); n != 4 {
		t.Errorf("DeleteByOwner(alice) = %d, want 4", n)
	}
	if n := mustInt(t)(s.DeleteByOwner(ctx, "alice")); n != 0 {
		t.Errorf("second DeleteByOwner(alice) = %d, want 0", n)
	}
	if n := mustInt(t)(s.DeleteByOwner(ctx, "nobody")); n != 0 {
		t.Errorf("DeleteByOwner(nobody) = %d, want 0", n)
	}
	if recs := mustRecords(t)(s.ListByOwner(ctx, "bob")); len(recs) != 2 {
		t.Errorf("bob's records must survive, got %d", len(recs))
	}
}

func testDeleteExpiredBefore(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	mustBool(t)(s.InsertIfAbsent(ctx, record("a", "alice", time.Minute)))
	mustBool(t)(s.InsertIfAbsent(ctx, record("b", "bob", 2*time.Minute)))
	mustBool(t)(s.InsertIfAbsent(ctx, record("c", "carol", time.Hour)))

	if n := mustInt(t)(s.DeleteExpiredBefore(ctx, base.Add(59*time.Second))); n != 0 {
		t.Errorf("nothing expired yet, swept %d", n)
	}
	if n := mustInt(t)(s.DeleteExpiredBefore(ctx, base.Add(2*time.Minute))); n != 2 {
		t.Errorf("expected 2 swept (expiresAt <= ts), got %d", n)
	}
	if _, found, _ := s.FindByKey(ctx, db.NewKey(db.ResourceTypeCourse, "c")); !found {
		t.Errorf("live record was swept")
	}
	if recs := mustRecords(t)(s.ListByOwner(ctx, "alice")); len(recs) != 0 {
		t.Errorf("swept record still listed for its owner")
	}
}

func testConcurrentInsert(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ok, err := s.InsertIfAbsent(ctx, record("shared", fmt.Sprintf("owner-%d", i), time.Minute))
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one insert to win, got %d", wins.Load())
	}
}

func testGetInfo(t *testing.T, s store.ILockStore) {
	defer s.Close()
	ctx := context.Background()

	mustBool(t)(s.InsertIfAbsent(ctx, record("1", "alice", time.Minute)))
	mustBool(t)(s.InsertIfAbsent(ctx, record("2", "alice", time.Minute)))

	info, err := s.GetInfo(ctx)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Records != 2 {
		t.Errorf("GetInfo().Records = %d, want 2", info.Records)
	}
}
