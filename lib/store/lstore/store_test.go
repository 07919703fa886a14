package lstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	"github.com/ValentinKolb/dLock/lib/db/engines/cedar"
	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/lib/store/storetest"
)

func newStore() store.ILockStore {
	return NewLocalStore(func() db.ILockTable { return cedar.NewCedarDB(nil) })
}

func Test(t *testing.T) {
	storetest.RunLockStoreTests(t, "LocalStore", func(t *testing.T) store.ILockStore {
		return newStore()
	})
}

func TestCancelledContext(t *testing.T) {
	s := newStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.FindByKey(ctx, db.NewKey(db.ResourceTypeCourse, "1"))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected unavailable error for cancelled context, got %v", err)
	}
	_, err = s.DeleteExpiredBefore(ctx, time.Now())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected unavailable error for cancelled context, got %v", err)
	}
}
