package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
)

// NewRPCLockMgr creates a new RPC ILockManager
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// The transport is connected here and owned by the caller afterwards.
func NewRPCLockMgr(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lease.ILockManager, error) {
	adapter, err := newClientAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcLockMgr{adapter}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// call invokes req. Errors that are not one of the lock manager's request errors mean
// the remote manager could not be reached or failed, they are reported as ErrStoreUnavailable.
func (l *rpcLockMgr) call(ctx context.Context, req *common.Message) (*common.Message, error) {
	resp, err := l.invoke(ctx, req)
	if err == nil {
		return resp, nil
	}
	switch common.KindOf(err) {
	case common.ErrKindStoreUnavailable,
		common.ErrKindStoreFault,
		common.ErrKindInvalidKey,
		common.ErrKindInvalidOwner,
		common.ErrKindInvalidMode,
		common.ErrKindContention:
		return resp, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return resp, fmt.Errorf("%s: %w: %w (%w)", req.MsgType, lease.ErrStoreUnavailable, err, ctxErr)
	}
	return resp, fmt.Errorf("%s: %w: %w", req.MsgType, lease.ErrStoreUnavailable, err)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lease package in interface.go)
// --------------------------------------------------------------------------

func (l *rpcLockMgr) CheckLock(ctx context.Context, key db.Key) (lease.Status, error) {
	resp, err := l.call(ctx, common.NewCheckRequest(key))
	if err != nil {
		return lease.Status{}, err
	}
	if !resp.Ok {
		return lease.Status{}, nil
	}
	rec, _, err := resp.Record()
	if err != nil {
		return lease.Status{}, l.decodeError(err)
	}
	return lease.Status{Locked: true, Record: rec}, nil
}

func (l *rpcLockMgr) AcquireLock(ctx context.Context, req lease.AcquireRequest) (lease.AcquireResult, error) {
	resp, err := l.call(ctx, common.NewAcquireRequest(req.Key, req.OwnerID, req.OwnerDisplay, req.Mode, req.Duration))
	if err != nil {
		return lease.AcquireResult{}, err
	}
	rec, _, err := resp.Record()
	if err != nil {
		return lease.AcquireResult{}, l.decodeError(err)
	}
	return lease.AcquireResult{Code: lease.AcquireCode(resp.Code), Record: rec}, nil
}

func (l *rpcLockMgr) ReleaseLock(ctx context.Context, key db.Key, ownerID string) (lease.ReleaseResult, error) {
	resp, err := l.call(ctx, common.NewReleaseRequest(key, ownerID))
	if err != nil {
		return lease.ReleaseResult{}, err
	}
	return lease.ReleaseResult{Success: resp.Ok, Reason: lease.ReleaseReason(resp.Code)}, nil
}

func (l *rpcLockMgr) ForceRelease(ctx context.Context, key db.Key) (lease.ReleaseResult, error) {
	resp, err := l.call(ctx, common.NewForceReleaseRequest(key))
	if err != nil {
		return lease.ReleaseResult{}, err
	}
	return lease.ReleaseResult{Success: resp.Ok, Reason: lease.ReleaseReason(resp.Code)}, nil
}

func (l *rpcLockMgr) ReleaseAllForOwner(ctx context.Context, ownerID string) (int, error) {
	resp, err := l.call(ctx, common.NewReleaseAllRequest(ownerID))
	return count(resp), err
}

func (l *rpcLockMgr) SweepExpired(ctx context.Context) (int, error) {
	resp, err := l.call(ctx, common.NewSweepRequest())
	return count(resp), err
}

func (l *rpcLockMgr) decodeError(err error) error {
	return fmt.Errorf("rpc: %w: decode record: %w", lease.ErrStoreUnavailable, err)
}

func count(resp *common.Message) int {
	if resp == nil {
		return 0
	}
	return int(resp.Count)
}
