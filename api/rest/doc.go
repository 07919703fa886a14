/*
Package rest exposes a lock manager over a small JSON HTTP API.

Routes:

	GET    /locks/{type}/{id}                  check a lock
	POST   /locks/{type}/{id}                  acquire or refresh a lock
	DELETE /locks/{type}/{id}?owner_id=<id>    release a lock held by owner_id
	DELETE /locks/{type}/{id}?force=true       release a lock regardless of its owner
	DELETE /owners/{owner}/locks               release every lock of an owner
	POST   /sweep                              delete all expired locks
	GET    /metrics                            Prometheus metrics
	GET    /health                             liveness probe

A successful acquire answers 201 (acquired, reclaimed) or 200 (refreshed). If another
owner holds the lock the answer is 409 and the body names the holder and the expiry
of its lease. Invalid keys, owners or modes answer 400, an unreachable store 503.

The API performs no authentication. A force release is only logged.
*/
package rest
