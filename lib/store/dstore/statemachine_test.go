package dstore

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/cedar"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var t0 = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func newFSM() *LockStateMachine {
	factory := CreateStateMachineFactory(func() db.ILockTable { return cedar.NewCedarDB(nil) })
	return factory(1, 1).(*LockStateMachine)
}

func rec(id, owner string, ttl time.Duration) db.Record {
	return db.Record{
		ID:         "rec-" + id + "-" + owner,
		Key:        db.NewKey(db.ResourceTypeCourse, id),
		OwnerID:    owner,
		AcquiredAt: t0,
		ExpiresAt:  t0.Add(ttl),
	}
}

// apply runs the commands as one batch and returns the decoded counts
func apply(t *testing.T, fsm *LockStateMachine, cmds ...internal.Command) []sm.Result {
	t.Helper()
	entries := make([]sm.Entry, len(cmds))
	for i, cmd := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: cmd.Serialize()}
	}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	results := make([]sm.Result, len(out))
	for i := range out {
		results[i] = out[i].Result
	}
	return results
}

func count(t *testing.T, r sm.Result) uint64 {
	t.Helper()
	if r.Value != uint64(store.RetCSuccess) {
		t.Fatalf("command failed with code %d: %s", r.Value, r.Data)
	}
	return binary.BigEndian.Uint64(r.Data)
}

func TestStateMachineUpdate(t *testing.T) {
	fsm := newFSM()
	defer fsm.Close()

	a := rec("1", "alice", time.Minute)
	results := apply(t, fsm,
		internal.NewInsertCommand(a),
		internal.NewInsertCommand(rec("1", "bob", time.Minute)),
		internal.NewUpdateCommand(a.Key, a.ID, db.Update{AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)}),
		internal.NewUpdateCommand(a.Key, "stale", db.Update{AcquiredAt: t0, ExpiresAt: t0.Add(time.Hour)}),
		internal.NewInsertCommand(rec("2", "alice", time.Minute)),
		internal.NewDeleteExpiredCommand(t0.Add(2*time.Minute)),
		internal.NewDeleteCommand(a.Key, db.Condition{OwnerID: "bob"}),
		internal.NewInsertCommand(rec("3", "alice", time.Hour)),
		internal.NewDeleteByOwnerCommand("alice"),
	)

	want := []uint64{1, 0, 1, 0, 1, 1, 0, 1, 2}
	for i, w := range want {
		if got := count(t, results[i]); got != w {
			t.Errorf("command %d: got %d, want %d", i, got, w)
		}
	}
}

func TestStateMachineRejects(t *testing.T) {
	fsm := newFSM()
	defer fsm.Close()

	entries := []sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2}},
		{Index: 3, Cmd: (&internal.Command{Type: 99}).Serialize()},
		{Index: 4, Cmd: func() []byte { c := internal.NewInsertCommand(rec("1", "", time.Minute)); return c.Serialize() }()},
	}
	out, err := fsm.Update(entries)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	wantCodes := []store.RetCode{
		store.RetCInvalidOperation,
		store.RetCInternalError,
		store.RetCInvalidOperation,
		store.RetCInvalidOperation,
	}
	for i, code := range wantCodes {
		if got := store.RetCode(out[i].Result.Value); got != code {
			t.Errorf("entry %d: code %s, want %s", i, got, code)
		}
	}
}

func TestStateMachineLookup(t *testing.T) {
	fsm := newFSM()
	defer fsm.Close()

	a := rec("1", "alice", time.Minute)
	apply(t, fsm, internal.NewInsertCommand(a))

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTFind, Key: a.Key})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	found := res.(FindResult)
	if !found.Found || found.Record.ID != a.ID {
		t.Errorf("find returned %+v", found)
	}

	res, _ = fsm.Lookup(internal.Query{Type: internal.QueryTListByOwner, OwnerID: "alice"})
	if recs := res.([]db.Record); len(recs) != 1 {
		t.Errorf("list returned %d records", len(recs))
	}

	res, _ = fsm.Lookup(internal.Query{Type: internal.QueryTGetInfo})
	if info := res.(db.TableInfo); info.Records != 1 {
		t.Errorf("info reports %d records", info.Records)
	}

	if _, err := fsm.Lookup("not a query"); err == nil {
		t.Errorf("Lookup with a foreign type should fail")
	}
	if _, err := fsm.Lookup(internal.Query{Type: 42}); err == nil {
		t.Errorf("Lookup with an unknown query type should fail")
	}
}

func TestStateMachineSnapshot(t *testing.T) {
	fsm := newFSM()
	defer fsm.Close()

	for _, id := range []string{"1", "2", "3"} {
		apply(t, fsm, internal.NewInsertCommand(rec(id, "alice", time.Minute)))
	}

	snap, err := fsm.PrepareSnapshot()
	if err != nil {
		t.Fatalf("PrepareSnapshot: %v", err)
	}

	// writes after the cut must not show up in the snapshot
	apply(t, fsm, internal.NewInsertCommand(rec("4", "alice", time.Minute)))

	var buf bytes.Buffer
	if err := fsm.SaveSnapshot(snap, &buf, nil, nil); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := newFSM()
	defer restored.Close()
	if err := restored.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatalf("RecoverFromSnapshot: %v", err)
	}

	res, _ := restored.Lookup(internal.Query{Type: internal.QueryTGetInfo})
	if info := res.(db.TableInfo); info.Records != 3 {
		t.Errorf("restored %d records, want 3", info.Records)
	}
}
