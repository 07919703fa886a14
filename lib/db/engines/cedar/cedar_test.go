package cedar

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	dbtesting "github.com/ValentinKolb/dLock/lib/db/testing"
)

func indexSize(c *cedarImpl) int {
	n := 0
	for _, s := range c.shardList() {
		n += s.Expiry.Len()
	}
	return n
}

func TestExpiryIndexFollowsRecords(t *testing.T) {
	table := NewCedarDB(&DBOptions{NumShards: 4}).(*cedarImpl)

	a := dbtesting.NewRecord("a", "alice", time.Minute)
	b := dbtesting.NewRecord("b", "bob", time.Minute)
	c := dbtesting.NewRecord("c", "bob", time.Minute)
	table.Insert(a)
	table.Insert(b)
	table.Insert(c)
	table.Insert(dbtesting.NewRecord("a", "bob", time.Hour)) // lost insert

	if got := indexSize(table); got != 3 {
		t.Fatalf("expected 3 index entries, got %d", got)
	}

	table.Update(a.Key, a.ID, db.Update{ExpiresAt: a.ExpiresAt.Add(time.Hour)})
	if got := indexSize(table); got != 3 {
		t.Errorf("update must move the entry, not add one: got %d", got)
	}

	table.Delete(a.Key, db.Condition{OwnerID: "alice"})
	if got := indexSize(table); got != 2 {
		t.Errorf("delete must drop the entry: got %d", got)
	}

	table.DeleteByOwner("bob")
	if got := indexSize(table); got != 0 {
		t.Errorf("owner delete must drop the entries: got %d", got)
	}
}

func TestGetInfo(t *testing.T) {
	table := NewCedarDB(&DBOptions{NumShards: 8})
	for _, id := range []string{"1", "2", "3"} {
		table.Insert(dbtesting.NewRecord(id, "alice", time.Minute))
	}

	info := table.GetInfo()
	if info.Records != 3 {
		t.Errorf("expected 3 records, got %d", info.Records)
	}
	if info.DbType != db.ImplCedar {
		t.Errorf("expected db type %s, got %s", db.ImplCedar, info.DbType)
	}
	if !table.SupportsFeature(db.FeatureSave | db.FeatureLoad | db.FeatureExpiryIndex) {
		t.Errorf("cedar should support save, load and the expiry index")
	}
}

func TestDefaultOptions(t *testing.T) {
	table := NewCedarDB(&DBOptions{NumShards: 0}).(*cedarImpl)
	if len(table.shardList()) == 0 {
		t.Fatal("zero shards must fall back to the default")
	}
}

func TestReadsDuringLoad(t *testing.T) {
	source := NewCedarDB(&DBOptions{NumShards: 4})
	rec := dbtesting.NewRecord("a", "alice", time.Minute)
	source.Insert(rec)

	var snapshot bytes.Buffer
	if err := source.Save(&snapshot); err != nil {
		t.Fatalf("Save: %v", err)
	}

	table := NewCedarDB(&DBOptions{NumShards: 4})
	table.Insert(rec)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// the record is in the old and in the new table
				if _, found := table.Get(rec.Key); !found {
					t.Errorf("record not visible while loading")
					return
				}
				if recs := table.ListByOwner("alice"); len(recs) != 1 {
					t.Errorf("ListByOwner while loading = %d records, want 1", len(recs))
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if err := table.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
			t.Errorf("Load: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
}
