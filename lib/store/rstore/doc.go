/*
Package rstore implements store.ILockStore on top of a Redis server.

Every conditional write (insert if absent, compare-and-set update, conditional
delete, owner and expiry sweeps) is a single Lua script, so redis executes it
atomically and several lock servers can share one redis instance.

Usage:

	s, err := rstore.NewRedisStore("redis://localhost:6379/0", &rstore.Options{Prefix: "dlock"})
	if err != nil {
		return err
	}
	defer s.Close()

Records never carry a redis TTL. Expired records stay visible until the lease
manager reclaims or sweeps them, exactly like the in-memory stores.
*/
package rstore
