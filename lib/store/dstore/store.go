package dstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// storeImpl is the concrete implementation of the distributed store.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type storeImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) store.ILockStore {
	cs := nh.GetNoOPSession(shardID)
	return &storeImpl{
		nh:      nh,
		shardID: shardID,
		cs:      cs,
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// opContext bounds a single attempt by both the caller's context and the store timeout
func (s *storeImpl) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// isTransient reports whether a dragonboat error is worth another attempt
func isTransient(err error) bool {
	return errors.Is(err, dragonboat.ErrSystemBusy) || errors.Is(err, dragonboat.ErrShardNotReady)
}

// toStoreError maps dragonboat and context errors onto the store error taxonomy
func toStoreError(err error) error {
	var serr *store.Error
	if errors.As(err, &serr) {
		return serr
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, dragonboat.ErrTimeout),
		errors.Is(err, dragonboat.ErrSystemBusy),
		errors.Is(err, dragonboat.ErrShardNotReady),
		errors.Is(err, dragonboat.ErrShardNotFound),
		errors.Is(err, dragonboat.ErrClosed):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

// write serializes a Command and proposes it via SyncPropose.
// The state machine reports the outcome of the command as a count in the result data
// (1/0 for the conditional single-key commands). It returns a *store.Error on failure.
func (s *storeImpl) write(ctx context.Context, cmd internal.Command) (uint64, error) {
	data := cmd.Serialize()
	for i := 0; i < retries; i++ {
		opCtx, cancel := s.opContext(ctx)
		res, err := s.nh.SyncPropose(opCtx, s.cs, data)
		cancel()

		// Check for system busy errors
		if isTransient(err) && ctx.Err() == nil {
			log.Infof("SyncPropose(%s): system busy, retrying (%d/%d)...", cmd.Type, i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return 0, toStoreError(err)
		}
		if res.Value != uint64(store.RetCSuccess) {
			return 0, store.NewError(store.RetCode(res.Value), string(res.Data))
		}
		if len(res.Data) != 8 {
			return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("unexpected %s result of %d bytes", cmd.Type, len(res.Data)))
		}
		return binary.BigEndian.Uint64(res.Data), nil
	}
	return 0, store.NewError(store.RetCUnavailable, "timeout")
}

// read is a generic helper function that queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](ctx context.Context, r *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			opCtx, cancel := r.opContext(ctx)
			res, err = r.nh.SyncRead(opCtx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if isTransient(err) && ctx.Err() == nil {
			log.Infof("SyncRead(%s): system busy, retrying (%d/%d)...", q.Type, i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			return zero, toStoreError(err)
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, store.NewError(store.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, store.NewError(store.RetCUnavailable, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) FindByKey(ctx context.Context, key db.Key) (db.Record, bool, error) {
	res, err := read[FindResult](ctx, s, internal.Query{
		Type: internal.QueryTFind,
		Key:  key,
	}, false)
	if err != nil {
		return db.Record{}, false, err
	}
	return res.Record, res.Found, nil
}

func (s *storeImpl) ListByOwner(ctx context.Context, ownerID string) ([]db.Record, error) {
	return read[[]db.Record](ctx, s, internal.Query{
		Type:    internal.QueryTListByOwner,
		OwnerID: ownerID,
	}, false)
}

func (s *storeImpl) InsertIfAbsent(ctx context.Context, rec db.Record) (bool, error) {
	// reject invalid records before they reach the log
	if err := store.ValidateRecord(rec); err != nil {
		return false, err
	}
	n, err := s.write(ctx, internal.NewInsertCommand(rec))
	return n == 1, err
}

func (s *storeImpl) UpdateInPlace(ctx context.Context, key db.Key, recordID string, upd db.Update) (bool, error) {
	n, err := s.write(ctx, internal.NewUpdateCommand(key, recordID, upd))
	return n == 1, err
}

func (s *storeImpl) DeleteByKey(ctx context.Context, key db.Key, cond db.Condition) (bool, error) {
	n, err := s.write(ctx, internal.NewDeleteCommand(key, cond))
	return n == 1, err
}

func (s *storeImpl) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	n, err := s.write(ctx, internal.NewDeleteByOwnerCommand(ownerID))
	return int(n), err
}

func (s *storeImpl) DeleteExpiredBefore(ctx context.Context, ts time.Time) (int, error) {
	n, err := s.write(ctx, internal.NewDeleteExpiredCommand(ts))
	return int(n), err
}

func (s *storeImpl) GetInfo(ctx context.Context) (db.TableInfo, error) {
	return read[db.TableInfo](
		ctx,
		s,
		internal.Query{
			Type: internal.QueryTGetInfo,
		},
		true, // Note: allow for stale reads
	)
}

// Close is a no-op. The NodeHost is shared between shards and owned by the caller.
func (s *storeImpl) Close() error {
	return nil
}
