package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// TableFactory is a function that creates a new instance of an ILockTable implementation
type TableFactory func() db.ILockTable

// base is the reference instant all suite records are built around
var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// RunLockTableTests runs a comprehensive test suite for an ILockTable implementation.
func RunLockTableTests(t *testing.T, name string, factory TableFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, factory())
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory())
		})

		t.Run("DeleteConditions", func(t *testing.T) {
			testDeleteConditions(t, factory())
		})

		t.Run("Owner", func(t *testing.T) {
			testOwner(t, factory())
		})

		t.Run("DeleteExpired", func(t *testing.T) {
			testDeleteExpired(t, factory())
		})

		t.Run("DeleteExpiredAfterRefresh", func(t *testing.T) {
			testDeleteExpiredAfterRefresh(t, factory())
		})

		t.Run("ManyExpiringRecords", func(t *testing.T) {
			testManyExpiringRecords(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("ConcurrentInsert", func(t *testing.T) {
			testConcurrentInsert(t, factory())
		})

		t.Run("ConcurrentUpdate", func(t *testing.T) {
			testConcurrentUpdate(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the table supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, table db.ILockTable, feature db.Feature) {
	if !table.SupportsFeature(feature) {
		t.Skip()
	}
}

// NewRecord builds a record for key "Course/<id>" held by owner for ttl starting at base.
func NewRecord(id, owner string, ttl time.Duration) db.Record {
	return db.Record{
		ID:           "rec-" + id + "-" + owner,
		Key:          db.NewKey(db.ResourceTypeCourse, id),
		OwnerID:      owner,
		OwnerDisplay: "Display " + owner,
		Mode:         db.ModeWrite,
		AcquiredAt:   base,
		ExpiresAt:    base.Add(ttl),
	}
}

// SameRecord reports whether two records are equal (time fields compared with time.Equal).
func SameRecord(a, b db.Record) bool {
	return a.ID == b.ID &&
		a.Key == b.Key &&
		a.OwnerID == b.OwnerID &&
		a.OwnerDisplay == b.OwnerDisplay &&
		a.Mode == b.Mode &&
		a.AcquiredAt.Equal(b.AcquiredAt) &&
		a.ExpiresAt.Equal(b.ExpiresAt)
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, table db.ILockTable) {
	defer table.Close()

	rec := NewRecord("1", "alice", time.Minute)
	if !table.Insert(rec) {
		t.Fatalf("Insert into empty table should succeed")
	}

	got, ok := table.Get(rec.Key)
	if !ok {
		t.Fatalf("Expected record for %s after Insert", rec.Key)
	}
	if !SameRecord(got, rec) {
		t.Errorf("Expected %+v, got %+v", rec, got)
	}

	// second insert for the same key must lose, even from another owner
	other := NewRecord("1", "bob", time.Hour)
	if table.Insert(other) {
		t.Errorf("Insert for a taken key should fail")
	}
	got, _ = table.Get(rec.Key)
	if got.OwnerID != "alice" {
		t.Errorf("Failed insert must not change the record, owner is %s", got.OwnerID)
	}

	// an expired record still occupies the key
	expired := NewRecord("2", "alice", time.Nanosecond)
	table.Insert(expired)
	if _, ok := table.Get(expired.Key); !ok {
		t.Errorf("Get must return records regardless of expiry")
	}

	if _, ok := table.Get(db.NewKey(db.ResourceTypeCourse, "nonexistent")); ok {
		t.Errorf("Expected nonexistent key to return loaded=false")
	}

	if table.Len() != 2 {
		t.Errorf("Expected 2 records, got %d", table.Len())
	}
}

func testUpdate(t *testing.T, table db.ILockTable) {
	defer table.Close()

	rec := NewRecord("1", "alice", time.Minute)
	table.Insert(rec)

	upd := db.Update{
		OwnerDisplay: "Alice Refreshed",
		Mode:         db.ModeRead,
		AcquiredAt:   base.Add(30 * time.Second),
		ExpiresAt:    base.Add(30*time.Second + 15*time.Minute),
	}

	if table.Update(rec.Key, "wrong-id", upd) {
		t.Errorf("Update with a stale record id should fail")
	}
	if table.Update(db.NewKey(db.ResourceTypeCourse, "missing"), rec.ID, upd) {
		t.Errorf("Update of a missing key should fail")
	}
	if !table.Update(rec.Key, rec.ID, upd) {
		t.Fatalf("Update with the current record id should succeed")
	}

	got, _ := table.Get(rec.Key)
	if got.ID != rec.ID || got.OwnerID != rec.OwnerID {
		t.Errorf("Update must keep id and owner, got %+v", got)
	}
	if got.OwnerDisplay != upd.OwnerDisplay || got.Mode != db.ModeRead {
		t.Errorf("Update did not apply display/mode, got %+v", got)
	}
	if !got.AcquiredAt.Equal(upd.AcquiredAt) || !got.ExpiresAt.Equal(upd.ExpiresAt) {
		t.Errorf("Update did not apply timestamps, got %+v", got)
	}
}

func testDeleteConditions(t *testing.T, table db.ILockTable) {
	defer table.Close()

	rec := NewRecord("1", "alice", time.Minute)
	table.Insert(rec)

	cases := []struct {
		name string
		cond db.Condition
		want bool
	}{
		{"wrong owner", db.Condition{OwnerID: "bob"}, false},
		{"wrong record id", db.Condition{RecordID: "other"}, false},
		{"not yet expired", db.Condition{ExpiredAt: base.Add(59 * time.Second)}, false},
		{"owner matches but id not", db.Condition{OwnerID: "alice", RecordID: "other"}, false},
		{"expired exactly at expiresAt", db.Condition{RecordID: rec.ID, ExpiredAt: base.Add(time.Minute)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := table.Delete(rec.Key, tc.cond); got != tc.want {
				t.Errorf("Delete(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}

	if _, ok := table.Get(rec.Key); ok {
		t.Errorf("Record should be gone after matching delete")
	}
	if table.Delete(rec.Key, db.Condition{}) {
		t.Errorf("Delete of a missing key should return false")
	}

	// unconditional delete
	table.Insert(rec)
	if !table.Delete(rec.Key, db.Condition{}) {
		t.Errorf("Unconditional delete should succeed")
	}
	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d records", table.Len())
	}
}

func testOwner(t *testing.T, table db.ILockTable) {
	defer table.Close()

	for i := 0; i < 10; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		table.Insert(NewRecord(fmt.Sprintf("%d", i), owner, time.Minute))
	}

	if got := len(table.ListByOwner("alice")); got != 5 {
		t.Errorf("Expected 5 records for alice, got %d", got)
	}
	for _, rec := range table.ListByOwner("bob") {
		if rec.OwnerID != "bob" {
			t.Errorf("ListByOwner(bob) returned record of %s", rec.OwnerID)
		}
	}
	if got := len(table.ListByOwner("nobody")); got != 0 {
		t.Errorf("Expected no records for unknown owner, got %d", got)
	}

	if got := table.DeleteByOwner("alice"); got != 5 {
		t.Errorf("DeleteByOwner(alice) = %d, want 5", got)
	}
	if got := table.DeleteByOwner("alice"); got != 0 {
		t.Errorf("Second DeleteByOwner(alice) = %d, want 0", got)
	}
	if table.Len() != 5 {
		t.Errorf("Expected bob's 5 records to remain, got %d", table.Len())
	}
}

func testDeleteExpired(t *testing.T, table db.ILockTable) {
	defer table.Close()

	table.Insert(NewRecord("short", "alice", time.Minute))
	table.Insert(NewRecord("long", "alice", time.Hour))

	if got := table.DeleteExpired(base.Add(59 * time.Second)); got != 0 {
		t.Errorf("Nothing should be expired yet, deleted %d", got)
	}
	if got := table.DeleteExpired(base.Add(time.Minute)); got != 1 {
		t.Errorf("Record expiring exactly at the deadline should be deleted, deleted %d", got)
	}
	if _, ok := table.Get(db.NewKey(db.ResourceTypeCourse, "short")); ok {
		t.Errorf("Expired record should be gone")
	}
	if _, ok := table.Get(db.NewKey(db.ResourceTypeCourse, "long")); !ok {
		t.Errorf("Live record must survive the sweep")
	}
}

func testDeleteExpiredAfterRefresh(t *testing.T, table db.ILockTable) {
	defer table.Close()

	rec := NewRecord("1", "alice", time.Minute)
	table.Insert(rec)

	// refresh moves the expiry past the sweep instant
	table.Update(rec.Key, rec.ID, db.Update{
		OwnerDisplay: rec.OwnerDisplay,
		AcquiredAt:   base.Add(50 * time.Second),
		ExpiresAt:    base.Add(50*time.Second + time.Hour),
	})

	if got := table.DeleteExpired(base.Add(2 * time.Minute)); got != 0 {
		t.Errorf("Refreshed record must not be swept, deleted %d", got)
	}

	// and is still swept once its new expiry has passed
	if got := table.DeleteExpired(base.Add(2 * time.Hour)); got != 1 {
		t.Errorf("Refreshed record should be swept after its new expiry, deleted %d", got)
	}

	// a deleted and re-inserted key is tracked under the new expiry
	table.Insert(rec)
	table.Delete(rec.Key, db.Condition{})
	table.Insert(NewRecord("1", "bob", 3*time.Hour))
	if got := table.DeleteExpired(base.Add(2 * time.Hour)); got != 0 {
		t.Errorf("Re-inserted record must not be swept early, deleted %d", got)
	}
}

func testManyExpiringRecords(t *testing.T, table db.ILockTable) {
	defer table.Close()

	numRecords := 1000
	for i := 0; i < numRecords; i++ {
		ttl := time.Duration(i%100+1) * time.Second
		table.Insert(NewRecord(fmt.Sprintf("%d", i), "alice", ttl))
	}

	total := 0
	for offset := 10; offset <= 100; offset += 10 {
		total += table.DeleteExpired(base.Add(time.Duration(offset) * time.Second))
		want := numRecords / 100 * offset
		if total != want {
			t.Errorf("After sweeping at +%ds expected %d deleted, got %d", offset, want, total)
		}
		if table.Len() != numRecords-want {
			t.Errorf("After sweeping at +%ds expected %d records, got %d", offset, numRecords-want, table.Len())
		}
	}
}

func testSaveLoad(t *testing.T, factory TableFactory) {
	table := factory()
	table2 := factory()

	defer table.Close()
	defer table2.Close()

	requireFeature(t, table, db.FeatureSave)
	requireFeature(t, table2, db.FeatureLoad)

	numRecords := 500
	originals := make([]db.Record, numRecords)
	for i := 0; i < numRecords; i++ {
		rec := NewRecord(fmt.Sprintf("%d", i), fmt.Sprintf("owner-%d", i%7), time.Duration(i+1)*time.Second)
		if i%3 == 0 {
			rec.Mode = db.ModeRead
		}
		originals[i] = rec
		table.Insert(rec)
	}

	// something in the target that Load must replace
	table2.Insert(NewRecord("stale", "nobody", time.Hour))

	var buf bytes.Buffer
	if err := table.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := table2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if table2.Len() != numRecords {
		t.Errorf("Expected %d records after Load, got %d", numRecords, table2.Len())
	}
	for _, want := range originals {
		got, ok := table2.Get(want.Key)
		if !ok {
			t.Errorf("Key %s not found after Load", want.Key)
			continue
		}
		if !SameRecord(got, want) {
			t.Errorf("Record mismatch for %s: expected %+v, got %+v", want.Key, want, got)
		}
	}

	// the expiry index must be rebuilt
	if got := table2.DeleteExpired(base.Add(100 * time.Second)); got != 100 {
		t.Errorf("Expected 100 expired records after Load, got %d", got)
	}

	if err := table2.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Load of an invalid snapshot should fail")
	}
}

func testConcurrentInsert(t *testing.T, table db.ILockTable) {
	defer table.Close()

	const goroutines = 32
	const keys = 50

	var winners [keys]atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				rec := NewRecord(fmt.Sprintf("%d", k), fmt.Sprintf("owner-%d", g), time.Minute)
				if table.Insert(rec) {
					winners[k].Add(1)
				}
			}
		}(g)
	}
	wg.Wait()

	for k := range winners {
		if n := winners[k].Load(); n != 1 {
			t.Errorf("Key %d: expected exactly one successful insert, got %d", k, n)
		}
	}
}

func testConcurrentUpdate(t *testing.T, table db.ILockTable) {
	defer table.Close()

	rec := NewRecord("1", "alice", time.Minute)
	table.Insert(rec)

	// racing replace: delete by record id then insert a new record id.
	// only one goroutine can win the delete for a given record id.
	const goroutines = 16
	var won atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			if table.Delete(rec.Key, db.Condition{RecordID: rec.ID}) {
				won.Add(1)
				next := NewRecord("1", fmt.Sprintf("owner-%d", g), time.Minute)
				table.Insert(next)
			}
		}(g)
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("Expected exactly one conditional delete to win, got %d", won.Load())
	}
	if table.Update(rec.Key, rec.ID, db.Update{ExpiresAt: base.Add(time.Hour)}) {
		t.Errorf("Update with the replaced record id must fail")
	}
}
