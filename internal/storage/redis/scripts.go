package redis

const (
	// upsertSessionScript atomically writes a session and indexes its user
	upsertSessionScript = `
local session_key = KEYS[1]     -- chronos:session:{userID}
local active_set = KEYS[2]      -- chronos:sessions:active

local session_id = ARGV[1]
local user_id = ARGV[2]
local start_time = ARGV[3]
local remaining = ARGV[4]

redis.call('DEL', session_key)
redis.call('HSET', session_key,
  'id', session_id,
  'user_id', user_id,
  'start_time', start_time,
  'estimated_remaining_seconds', remaining
)
redis.call('SADD', active_set, user_id)

return 'OK'
`

	// deleteSessionScript removes a session and its index entry, returning 0
	// when no session was stored for the user
	deleteSessionScript = `
local session_key = KEYS[1]     -- chronos:session:{userID}
local active_set = KEYS[2]      -- chronos:sessions:active

local user_id = ARGV[1]

local removed = redis.call('DEL', session_key)
redis.call('SREM', active_set, user_id)

return removed
`
)
