package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
)

// RunLockTableBenchmarks runs all benchmarks for a lock table implementation
func RunLockTableBenchmarks(b *testing.B, name string, factory TableFactory) {

	b.Run("Insert", func(b *testing.B) {
		benchmarkInsert(b, factory())
	})

	b.Run("InsertTaken", func(b *testing.B) {
		benchmarkInsertTaken(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Update", func(b *testing.B) {
		benchmarkUpdate(b, factory())
	})

	b.Run("DeleteExpired", func(b *testing.B) {
		benchmarkDeleteExpired(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Insert on free keys
func benchmarkInsert(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			n := counter.Add(1)
			table.Insert(NewRecord(fmt.Sprintf("%d", n), "bench", time.Minute))
		}
	})
}

// Benchmark for Insert on keys that are already held
func benchmarkInsertTaken(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		table.Insert(NewRecord(fmt.Sprintf("%d", i), "holder", time.Minute))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			table.Insert(NewRecord(fmt.Sprintf("%d", counter%numKeys), "bench", time.Minute))
			counter++
		}
	})
}

// Benchmark for Get
func benchmarkGet(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	const numKeys = 10000
	keys := make([]db.Key, numKeys)
	for i := 0; i < numKeys; i++ {
		rec := NewRecord(fmt.Sprintf("%d", i), "holder", time.Minute)
		keys[i] = rec.Key
		table.Insert(rec)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			table.Get(keys[counter%numKeys])
			counter++
		}
	})
}

// Benchmark for Update (lease refresh)
func benchmarkUpdate(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	const numKeys = 1000
	recs := make([]db.Record, numKeys)
	for i := 0; i < numKeys; i++ {
		recs[i] = NewRecord(fmt.Sprintf("%d", i), "holder", time.Minute)
		table.Insert(recs[i])
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			rec := recs[counter%numKeys]
			now := base.Add(time.Duration(counter) * time.Millisecond)
			table.Update(rec.Key, rec.ID, db.Update{
				OwnerDisplay: rec.OwnerDisplay,
				AcquiredAt:   now,
				ExpiresAt:    now.Add(time.Minute),
			})
			counter++
		}
	})
}

// Benchmark for DeleteExpired with a mix of expired and live records
func benchmarkDeleteExpired(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 100; j++ {
			ttl := time.Duration(j+1) * time.Second
			table.Insert(NewRecord(fmt.Sprintf("%d-%d", i, j), "bench", ttl))
		}
		b.StartTimer()
		table.DeleteExpired(base.Add(50 * time.Second))
	}
}

// Benchmark for Save and Load
func benchmarkSaveLoad(b *testing.B, factory TableFactory) {
	table := factory()
	b.Cleanup(func() {
		table.Close()
	})

	requireFeature(b, table, db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 10000; i++ {
		table.Insert(NewRecord(fmt.Sprintf("%d", i), fmt.Sprintf("owner-%d", i%100), time.Minute))
	}

	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var buf bytes.Buffer
			if err := table.Save(&buf); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	var snapshot bytes.Buffer
	if err := table.Save(&snapshot); err != nil {
		b.Fatalf("Save failed: %v", err)
	}
	data := snapshot.Bytes()

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(data)); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}
	})
}

// Benchmark for the operation mix of a lock manager (mostly reads, some acquire/release)
func benchmarkMixedUsage(b *testing.B, table db.ILockTable) {
	b.Cleanup(func() {
		table.Close()
	})

	const numKeys = 1000

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			id := fmt.Sprintf("%d", r.Intn(numKeys))
			key := db.NewKey(db.ResourceTypeCourse, id)
			switch op := r.Intn(10); {
			case op < 6:
				table.Get(key)
			case op < 8:
				table.Insert(NewRecord(id, "bench", time.Minute))
			default:
				table.Delete(key, db.Condition{OwnerID: "bench"})
			}
		}
	})
}
