package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// Closing the store closes the transport.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.ILockStore, error) {
	adapter, err := newClientAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) FindByKey(ctx context.Context, key db.Key) (db.Record, bool, error) {
	resp, err := s.invoke(ctx, common.NewFindRequest(key))
	if err != nil || !resp.Ok {
		return db.Record{}, false, err
	}
	rec, _, err := resp.Record()
	if err != nil {
		return db.Record{}, false, corrupt(err)
	}
	return rec, true, nil
}

func (s *rpcStore) ListByOwner(ctx context.Context, ownerID string) ([]db.Record, error) {
	resp, err := s.invoke(ctx, common.NewListOwnerRequest(ownerID))
	if err != nil {
		return nil, err
	}
	recs, err := common.DecodeRecords(resp.Records)
	if err != nil {
		return nil, corrupt(err)
	}
	return recs, nil
}

func (s *rpcStore) InsertIfAbsent(ctx context.Context, rec db.Record) (bool, error) {
	// validate before the round trip, an invalid record cannot be encoded anyway
	if err := store.ValidateRecord(rec); err != nil {
		return false, err
	}
	resp, err := s.invoke(ctx, common.NewInsertRequest(rec))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *rpcStore) UpdateInPlace(ctx context.Context, key db.Key, recordID string, upd db.Update) (bool, error) {
	resp, err := s.invoke(ctx, common.NewUpdateRequest(key, recordID, upd))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *rpcStore) DeleteByKey(ctx context.Context, key db.Key, cond db.Condition) (bool, error) {
	resp, err := s.invoke(ctx, common.NewDeleteRequest(key, cond))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *rpcStore) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	resp, err := s.invoke(ctx, common.NewDeleteOwnerRequest(ownerID))
	return count(resp), err
}

func (s *rpcStore) DeleteExpiredBefore(ctx context.Context, ts time.Time) (int, error) {
	resp, err := s.invoke(ctx, common.NewDeleteExpiredRequest(ts))
	return count(resp), err
}

// GetInfo only reports the number of records of the remote store
func (s *rpcStore) GetInfo(ctx context.Context) (db.TableInfo, error) {
	resp, err := s.invoke(ctx, common.NewGetInfoRequest())
	if err != nil {
		return db.TableInfo{}, err
	}
	return db.TableInfo{Records: int(resp.Count)}, nil
}

func (s *rpcStore) Close() error {
	return s.transport.Close()
}

func corrupt(err error) error {
	return store.NewError(store.RetCInternalError, fmt.Sprintf("rpc: decode record: %v", err))
}
