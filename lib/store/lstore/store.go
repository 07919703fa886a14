package lstore

import (
	"context"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/store"
)

type storeImpl struct {
	table db.ILockTable
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// It calls the lock table created by factory directly.
func NewLocalStore(factory store.TableFactory) store.ILockStore {
	return &storeImpl{
		table: factory(),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) FindByKey(ctx context.Context, key db.Key) (db.Record, bool, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return db.Record{}, false, err
	}
	rec, ok := s.table.Get(key)
	return rec, ok, nil
}

func (s *storeImpl) ListByOwner(ctx context.Context, ownerID string) ([]db.Record, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return nil, err
	}
	return s.table.ListByOwner(ownerID), nil
}

func (s *storeImpl) InsertIfAbsent(ctx context.Context, rec db.Record) (bool, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return false, err
	}
	if err := store.ValidateRecord(rec); err != nil {
		return false, err
	}
	return s.table.Insert(rec), nil
}

func (s *storeImpl) UpdateInPlace(ctx context.Context, key db.Key, recordID string, upd db.Update) (bool, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return false, err
	}
	return s.table.Update(key, recordID, upd), nil
}

func (s *storeImpl) DeleteByKey(ctx context.Context, key db.Key, cond db.Condition) (bool, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return false, err
	}
	return s.table.Delete(key, cond), nil
}

func (s *storeImpl) DeleteByOwner(ctx context.Context, ownerID string) (int, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return 0, err
	}
	return s.table.DeleteByOwner(ownerID), nil
}

func (s *storeImpl) DeleteExpiredBefore(ctx context.Context, ts time.Time) (int, error) {
	if err := store.FromContext(ctx.Err()); err != nil {
		return 0, err
	}
	return s.table.DeleteExpired(ts), nil
}

func (s *storeImpl) GetInfo(_ context.Context) (db.TableInfo, error) {
	return s.table.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return s.table.Close()
}
