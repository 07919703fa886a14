package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/lease"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewLockManagerServerAdapter serves the lease.ILockManager operations of mgr
func NewLockManagerServerAdapter(mgr lease.ILockManager) IRPCServerAdapter {
	return &lockMgrServerAdapter{mgr: mgr}
}

type lockMgrServerAdapter struct {
	mgr lease.ILockManager
}

func (adapter *lockMgrServerAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	locks := adapter.mgr
	if locks == nil {
		return common.NewErrorResponse(store.NewError(store.RetCInternalError, "handler: lock manager is nil"))
	}

	switch req.MsgType {
	case common.MsgTLockCheck:
		status, err := locks.CheckLock(ctx, req.Key())
		return common.NewCheckResponse(status.Locked, status.Record, err)
	case common.MsgTLockAcquire:
		res, err := locks.AcquireLock(ctx, lease.AcquireRequest{
			Key:          req.Key(),
			OwnerID:      req.OwnerID,
			OwnerDisplay: req.OwnerDisplay,
			Mode:         db.Mode(req.Mode),
			Duration:     req.Duration(),
		})
		return common.NewAcquireResponse(uint8(res.Code), res.Ok(), res.Record, err)
	case common.MsgTLockRelease:
		res, err := locks.ReleaseLock(ctx, req.Key(), req.OwnerID)
		return common.NewReleaseResponse(req.MsgType, res.Success, uint8(res.Reason), err)
	case common.MsgTLockForceRelease:
		res, err := locks.ForceRelease(ctx, req.Key())
		return common.NewReleaseResponse(req.MsgType, res.Success, uint8(res.Reason), err)
	case common.MsgTLockReleaseAll:
		n, err := locks.ReleaseAllForOwner(ctx, req.OwnerID)
		return common.NewCountResponse(req.MsgType, n, err)
	case common.MsgTLockSweep:
		n, err := locks.SweepExpired(ctx)
		return common.NewCountResponse(req.MsgType, n, err)
	default:
		return common.NewErrorResponse(store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType)))
	}
}
