package redis

import "github.com/redis/go-redis/v9"

// Shared Lua prelude: integer formatting and the post-write reply.
const luaHelpers = `
local function fmt(n) return string.format('%d', n) end
local function hnum(key, field)
  local v = redis.call('HGET', key, field)
  if not v or v == '' then return 0 end
  return tonumber(v) or 0
end
`

// KEYS[1] account hash, KEYS[2] referral code key, KEYS[3] accounts zset.
// ARGV[1] id, ARGV[2] created_at ms, ARGV[3..] field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {'exists', redis.call('HGETALL', KEYS[1])}
end
if redis.call('SETNX', KEYS[2], ARGV[1]) == 0 then
  if redis.call('GET', KEYS[2]) ~= ARGV[1] then
    return {'code_taken'}
  end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return {'created', redis.call('HGETALL', KEYS[1])}
`)

// KEYS[1] account hash. ARGV[1] JSON-encoded update.
var applyScript = redis.NewScript(luaHelpers + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'missing'}
end
local u = cjson.decode(ARGV[1])
local function inc(k) return u[k] or 0 end
if u.require_premium ~= nil then
  local premium = redis.call('HGET', KEYS[1], 'premium') == '1'
  if premium ~= u.require_premium then return {'fail', 'premium'} end
end

local balance = hnum(KEYS[1], 'balance')
local avail = hnum(KEYS[1], 'available_energy')
local total = hnum(KEYS[1], 'total_energy')
local tap = hnum(KEYS[1], 'tap_power')
local spin = hnum(KEYS[1], 'spin_count')
local perk = hnum(KEYS[1], 'perk_count')

if balance + inc('balance') < 0 then return {'fail', 'balance'} end
if avail + inc('energy') < 0 then return {'fail', 'energy'} end
if tap + inc('tap_power') < 1 then return {'fail', 'tap_power'} end
if spin + inc('spin') < 0 then return {'fail', 'spin'} end
if perk + inc('perk') < 0 then return {'fail', 'perk'} end
if u.check_in then
  local last = redis.call('HGET', KEYS[1], 'last_check_in_at')
  if last and last ~= '' and tonumber(last) > u.not_after then
    return {'fail', 'check_in'}
  end
end
if u.set_wallet and not u.relink then
  local w = redis.call('HGET', KEYS[1], 'wallet_address')
  if w and w ~= '' and w ~= u.set_wallet then return {'fail', 'wallet'} end
end

if u.set_total then total = u.set_total end
total = total + inc('total_energy')
if total < 0 then total = 0 end
avail = avail + inc('energy')
if avail > total then avail = total end
if avail < 0 then avail = 0 end

local out = {
  'total_energy', fmt(total),
  'available_energy', fmt(avail),
  'balance', fmt(balance + inc('balance')),
  'tap_power', fmt(tap + inc('tap_power')),
  'spin_count', fmt(spin + inc('spin')),
  'perk_count', fmt(perk + inc('perk')),
  'updated_at', fmt(u.now),
}
if u.set_level then
  table.insert(out, 'level'); table.insert(out, fmt(u.set_level))
end
if u.set_wallet then
  table.insert(out, 'wallet_address'); table.insert(out, u.set_wallet)
end
if u.set_premium then
  table.insert(out, 'premium'); table.insert(out, '1')
end
if u.check_in then
  table.insert(out, 'check_in_count'); table.insert(out, fmt(hnum(KEYS[1], 'check_in_count') + 1))
  table.insert(out, 'last_check_in_at'); table.insert(out, fmt(u.now))
end
redis.call('HSET', KEYS[1], unpack(out))
return {'ok', redis.call('HGETALL', KEYS[1])}
`)

// KEYS[1] account hash. ARGV[1] now ms, ARGV[2] '1' to skip full accounts.
var resetScript = redis.NewScript(luaHelpers + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {'missing'}
end
local total = hnum(KEYS[1], 'total_energy')
if ARGV[2] == '1' and hnum(KEYS[1], 'available_energy') >= total then
  return {'full'}
end
redis.call('HSET', KEYS[1], 'available_energy', fmt(total), 'updated_at', ARGV[1])
return {'ok', redis.call('HGETALL', KEYS[1])}
`)

// KEYS[1] referrer hash, KEYS[2] credited referees set.
// ARGV[1] referee id, ARGV[2] bonus field, ARGV[3] amount, ARGV[4] now ms.
var creditScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[3])
redis.call('HINCRBY', KEYS[1], 'referral_count', 1)
redis.call('HSET', KEYS[1], 'updated_at', ARGV[4])
return 1
`)

// KEYS[1] referee hash. ARGV[1] now ms.
var markCreditedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'referral_credited') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'referral_credited', '1', 'updated_at', ARGV[1])
return 1
`)
