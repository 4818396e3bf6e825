package redis

const (
	// saveStateScript atomically updates the state hash and the history entry
	saveStateScript = `
local state_key = KEYS[1]       -- shortmeter:state
local history_key = KEYS[2]     -- shortmeter:history:{date}, empty to skip

local ttl_seconds = tonumber(ARGV[1])

-- Remaining ARGV are field/value pairs
local seconds = nil
for i = 2, #ARGV, 2 do
  redis.call('HSET', state_key, ARGV[i], ARGV[i + 1])
  if ARGV[i] == 'time' then
    seconds = ARGV[i + 1]
  end
end

-- Record the day's total for history
if history_key ~= '' and seconds ~= nil then
  redis.call('SET', history_key, seconds)
  if ttl_seconds > 0 then
    redis.call('EXPIRE', history_key, ttl_seconds)
  end
end

return 'OK'
`
)
