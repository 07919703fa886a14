// Package client implements RPC clients for dLock.
// It provides implementations of the store.ILockStore and lease.ILockManager interfaces
// that forward every call to a shard of a remote server.
//
// Key Components:
//
//   - NewRPCLockMgr: client for a lock manager shard. Conflicts and release reasons are
//     results, exactly as with a local manager. Request errors (ErrInvalidKey,
//     ErrInvalidOwner, ErrInvalidMode, ErrContention) are rebuilt from the response;
//     every other failure, including an unreachable server, is reported as
//     lease.ErrStoreUnavailable.
//
//   - NewRPCStore: client for a store shard. Errors are *store.Error values; an
//     unreachable server is reported with code RetCUnavailable. GetInfo only reports
//     the number of records.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:              []string{"localhost:8080"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	t := tcp.NewTCPClientTransport()
//	defer t.Close()
//
//	locks, _ := client.NewRPCLockMgr(200, config, t, serializer.NewBinarySerializer())
//	res, err := locks.AcquireLock(ctx, lease.AcquireRequest{
//	  Key:          db.NewKey(db.ResourceTypeCourse, "course-42"),
//	  OwnerID:      lease.NewOwnerID(),
//	  OwnerDisplay: "Alice",
//	})
//	if err == nil && res.Code == lease.AcquireConflict {
//	  fmt.Printf("locked by %s until %s\n", res.Record.OwnerDisplay, res.Record.ExpiresAt)
//	}
//
// The transport is connected by the constructor and owned by the caller.
// All clients are safe for concurrent use.
package client
