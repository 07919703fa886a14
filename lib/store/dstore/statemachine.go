package dstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// FindResult is the result of a find query
type FindResult struct {
	Record db.Record
	Found  bool
}

// LockStateMachine is a state machine implementation for Dragonboat RAFT
// that applies lock store commands to a db.ILockTable.
type LockStateMachine struct {
	replicaID uint64
	shardID   uint64
	table     db.ILockTable // the actual lock storage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable tableFactory
func CreateStateMachineFactory(tableFactory store.TableFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &LockStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			table:     tableFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding ILockTable method.
func (fsm *LockStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTFind:
		rec, found := fsm.table.Get(q.Key)
		return FindResult{Record: rec, Found: found}, nil
	case internal.QueryTListByOwner:
		return fsm.table.ListByOwner(q.OwnerID), nil
	case internal.QueryTGetInfo:
		return fsm.table.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// result packs a count into a successful sm.Result
func result(n int) sm.Result {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(n))
	return sm.Result{Value: uint64(store.RetCSuccess), Data: data}
}

func boolResult(ok bool) sm.Result {
	if ok {
		return result(1)
	}
	return result(0)
}

func errResult(code store.RetCode, format string, args ...any) sm.Result {
	return sm.Result{Value: uint64(code), Data: []byte(fmt.Sprintf(format, args...))}
}

// apply executes a single command against the table
func (fsm *LockStateMachine) apply(cmd *internal.Command) sm.Result {
	switch cmd.Type {
	case internal.CommandTInsert:
		if err := store.ValidateRecord(cmd.Record); err != nil {
			var serr *store.Error
			errors.As(err, &serr)
			return sm.Result{Value: uint64(serr.Code), Data: []byte(serr.Msg)}
		}
		return boolResult(fsm.table.Insert(cmd.Record))
	case internal.CommandTUpdate:
		return boolResult(fsm.table.Update(cmd.Record.Key, cmd.Record.ID, cmd.Update()))
	case internal.CommandTDelete:
		return boolResult(fsm.table.Delete(cmd.Record.Key, cmd.Condition()))
	case internal.CommandTDeleteByOwner:
		return result(fsm.table.DeleteByOwner(cmd.Record.OwnerID))
	case internal.CommandTDeleteExpired:
		return result(fsm.table.DeleteExpired(cmd.At))
	default:
		return errResult(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
}

// Update handles write commands on the ILockTable instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *LockStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = errResult(store.RetCInvalidOperation, "empty command ignored")
			continue
		}

		// Deserialize the command
		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = errResult(store.RetCInternalError, "failed to deserialize command: %v", err)
			continue
		}

		entries[idx].Result = fsm.apply(&cmd)
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot copies the table while Update is blocked by dragonboat.
// Log replay after recovery is only correct against a consistent cut,
// so the snapshot cannot be taken concurrently with updates.
func (fsm *LockStateMachine) PrepareSnapshot() (interface{}, error) {
	if !fsm.table.SupportsFeature(db.FeatureSave) {
		return nil, fmt.Errorf("the used ILockTable implementation does not support Save() operations")
	}
	var buf bytes.Buffer
	if err := fsm.table.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveSnapshot writes the copy made by PrepareSnapshot
func (fsm *LockStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	data, ok := ctx.([]byte)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}
	_, err := writer.Write(data)
	return err
}

// RecoverFromSnapshot replaces the table content with the snapshot.
func (fsm *LockStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.table.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used ILockTable implementation does not support Load() operations")
	}
	return fsm.table.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *LockStateMachine) Close() error {
	return fsm.table.Close()
}
