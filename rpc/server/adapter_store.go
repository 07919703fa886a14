package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

// NewStoreServerAdapter serves the store.ILockStore operations of s
func NewStoreServerAdapter(s store.ILockStore) IRPCServerAdapter {
	return &storeServerAdapter{store: s}
}

type storeServerAdapter struct {
	store store.ILockStore
}

func (adapter *storeServerAdapter) Handle(ctx context.Context, req *common.Message) *common.Message {
	s := adapter.store
	if s == nil {
		return common.NewErrorResponse(store.NewError(store.RetCInternalError, "handler: store is nil"))
	}

	switch req.MsgType {
	case common.MsgTStoreFind:
		rec, found, err := s.FindByKey(ctx, req.Key())
		return common.NewFindResponse(rec, found, err)
	case common.MsgTStoreListOwner:
		recs, err := s.ListByOwner(ctx, req.OwnerID)
		return common.NewListOwnerResponse(recs, err)
	case common.MsgTStoreInsert:
		rec, ok, err := req.Record()
		if err != nil || !ok {
			return common.NewErrorResponse(store.NewError(store.RetCInvalidOperation, fmt.Sprintf("insert: no valid record in request: %v", err)))
		}
		inserted, err := s.InsertIfAbsent(ctx, rec)
		return common.NewOkResponse(req.MsgType, inserted, err)
	case common.MsgTStoreUpdate:
		updated, err := s.UpdateInPlace(ctx, req.Key(), req.RecordID, req.Update())
		return common.NewOkResponse(req.MsgType, updated, err)
	case common.MsgTStoreDelete:
		deleted, err := s.DeleteByKey(ctx, req.Key(), req.Condition())
		return common.NewOkResponse(req.MsgType, deleted, err)
	case common.MsgTStoreDeleteOwner:
		n, err := s.DeleteByOwner(ctx, req.OwnerID)
		return common.NewCountResponse(req.MsgType, n, err)
	case common.MsgTStoreDeleteExpired:
		n, err := s.DeleteExpiredBefore(ctx, db.DecodeTime(req.Timestamp))
		return common.NewCountResponse(req.MsgType, n, err)
	case common.MsgTStoreGetInfo:
		info, err := s.GetInfo(ctx)
		return common.NewGetInfoResponse(info, err)
	default:
		return common.NewErrorResponse(store.NewError(store.RetCUnsupportedOperation,
			fmt.Sprintf("RPC StoreAdapter - Unsupported message type: %s", req.MsgType)))
	}
}
