package rstore

import "github.com/redis/go-redis/v9"

// Record layout in redis:
//
//	<prefix>:lock:<type>/<id>   hash   id, type, rid, owner, display, mode, acq, exp
//	<prefix>:owner:<ownerID>    set    rendered keys held by the owner
//	<prefix>:expiry             zset   rendered key -> expiresAt in unix millis (floored)
//
// acq and exp hold unix nanoseconds zero padded to 20 digits, so that the scripts can
// compare them as strings without losing precision to Lua numbers. The zset score only
// selects candidates; the padded value decides.

// insertScript stores the record if the key is free.
// KEYS: lock, owner set, expiry. ARGV: member, id, type, rid, owner, display, mode, acq, exp, score
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[2], "type", ARGV[3], "rid", ARGV[4], "owner", ARGV[5],
  "display", ARGV[6], "mode", ARGV[7], "acq", ARGV[8], "exp", ARGV[9])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[10], ARGV[1])
return 1
`)

// updateScript rewrites the mutable fields if the stored record still has the given id.
// KEYS: lock, expiry. ARGV: member, id, display, mode, acq, exp, score
var updateScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[2] then
  return 0
end
redis.call("HSET", KEYS[1], "display", ARGV[3], "mode", ARGV[4], "acq", ARGV[5], "exp", ARGV[6])
redis.call("ZADD", KEYS[2], ARGV[7], ARGV[1])
return 1
`)

// deleteScript removes the record if it matches every non-empty condition.
// KEYS: lock, expiry. ARGV: member, id, owner, expiredAt, owner key prefix
var deleteScript = redis.NewScript(`
local rec = redis.call("HMGET", KEYS[1], "id", "owner", "exp")
if not rec[1] then
  return 0
end
if ARGV[2] ~= "" and rec[1] ~= ARGV[2] then
  return 0
end
if ARGV[3] ~= "" and rec[2] ~= ARGV[3] then
  return 0
end
if ARGV[4] ~= "" and rec[3] > ARGV[4] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("SREM", ARGV[5] .. rec[2], ARGV[1])
return 1
`)

// deleteOwnerScript removes every record of an owner.
// KEYS: owner set, expiry. ARGV: lock key prefix, owner
var deleteOwnerScript = redis.NewScript(`
local members = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, m in ipairs(members) do
  local lk = ARGV[1] .. m
  if redis.call("HGET", lk, "owner") == ARGV[2] then
    redis.call("DEL", lk)
    redis.call("ZREM", KEYS[2], m)
    n = n + 1
  end
end
redis.call("DEL", KEYS[1])
return n
`)

// deleteExpiredScript removes every record with exp <= ts, re-checking each candidate.
// KEYS: expiry. ARGV: lock key prefix, owner key prefix, max score, ts
var deleteExpiredScript = redis.NewScript(`
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
local n = 0
for _, m in ipairs(members) do
  local lk = ARGV[1] .. m
  local rec = redis.call("HMGET", lk, "owner", "exp")
  if not rec[1] then
    redis.call("ZREM", KEYS[1], m)
  elseif rec[2] <= ARGV[4] then
    redis.call("DEL", lk)
    redis.call("ZREM", KEYS[1], m)
    redis.call("SREM", ARGV[2] .. rec[1], m)
    n = n + 1
  end
end
return n
`)
