// Package lua holds the Redis scripts that make scarce-counter commits
// atomic. Each script runs as one unit inside Redis, so concurrent claims
// against the same item or collectible serialize there and nowhere else.
package lua

// ClaimScript commits one claim: insert-if-absent into the user's claimed
// set plus a bounded increment of the item's claim counter, in one atomic
// step. KEYS[1] = claimed set, KEYS[2] = claim counter. ARGV[1] = item id,
// ARGV[2] = max claims (-1 for unlimited).
const ClaimScript = `
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
  return "ALREADY_CLAIMED"
end
local max = tonumber(ARGV[2])
if max >= 0 then
  local count = tonumber(redis.call("GET", KEYS[2]) or "0")
  if count >= max then
    return "LIMIT_REACHED"
  end
end
redis.call("INCR", KEYS[2])
redis.call("SADD", KEYS[1], ARGV[1])
return "OK"
`

// ReleaseScript is the admin correction path. KEYS[1] = claimed set,
// KEYS[2] = claim counter. ARGV[1] = item id, ARGV[2] = 1 to reopen the
// user's claim slot. Returns 1 when a claim existed and was released. The
// counter never drops below zero.
const ReleaseScript = `
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
  return 0
end
if tonumber(ARGV[2]) == 1 then
  redis.call("SREM", KEYS[1], ARGV[1])
end
local count = tonumber(redis.call("GET", KEYS[2]) or "0")
if count > 0 then
  redis.call("DECR", KEYS[2])
end
return 1
`

// StockScript takes one unit of limited collectible stock iff any remains.
// KEYS[1] = stock counter. Returns 1 when a unit was taken, 0 when sold
// out or the counter was never seeded.
const StockScript = `
local left = tonumber(redis.call("GET", KEYS[1]) or "0")
if left <= 0 then
  return 0
end
redis.call("DECR", KEYS[1])
return 1
`
