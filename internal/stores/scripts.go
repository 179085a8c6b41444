package stores

// Lua scripts shared by the Redis and Valkey backends. Every multi-key
// mutation runs as one script so that record, server index and time index
// never disagree.

// KEYS: record, server index, expiry index.
// ARGV: id, server_url, handle, payload, expires_at (unix ms).
const storeAssociationScript = `
local previous = redis.call("HGET", KEYS[1], "index")
if previous and previous ~= KEYS[2] then
  redis.call("SREM", previous, ARGV[1])
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1],
  "server_url", ARGV[2],
  "handle", ARGV[3],
  "payload", ARGV[4],
  "expires_at", ARGV[5],
  "index", KEYS[2])
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
return 1
`

// KEYS: record, expiry index.
// ARGV: id, server_url, handle.
const deleteAssociationScript = `
local fields = redis.call("HMGET", KEYS[1], "server_url", "handle", "index")
if fields[1] ~= ARGV[2] or fields[2] ~= ARGV[3] then
  return 0
end
redis.call("DEL", KEYS[1])
if fields[3] then
  redis.call("SREM", fields[3], ARGV[1])
end
redis.call("ZREM", KEYS[2], ARGV[1])
return 1
`

// KEYS: expiry index.
// ARGV: now (unix ms), record key prefix.
const expireAssociationsScript = `
local now = tonumber(ARGV[1])
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
local removed = 0
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local fields = redis.call("HMGET", key, "expires_at", "index")
  if not fields[1] then
    redis.call("ZREM", KEYS[1], id)
  elseif tonumber(fields[1]) < now then
    removed = removed + redis.call("DEL", key)
    if fields[2] then
      redis.call("SREM", fields[2], id)
    end
    redis.call("ZREM", KEYS[1], id)
  end
end
return removed
`

// KEYS: record, timestamp index.
// ARGV: id, server_url, timestamp (unix s), salt.
const insertNonceScript = `
if redis.call("HSETNX", KEYS[1], "id", ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "server_url", ARGV[2], "timestamp", ARGV[3], "salt", ARGV[4])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`

// KEYS: timestamp index.
// ARGV: lo, hi (unix s), record key prefix.
const purgeNoncesScript = `
local removed = 0
local function purge(ids)
  for _, id in ipairs(ids) do
    removed = removed + redis.call("DEL", ARGV[3] .. id)
    redis.call("ZREM", KEYS[1], id)
  end
end
purge(redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1]))
purge(redis.call("ZRANGEBYSCORE", KEYS[1], "(" .. ARGV[2], "+inf"))
return removed
`
