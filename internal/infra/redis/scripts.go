package redis

import "github.com/redis/go-redis/v9"

// Conditional transitions run as Lua so the check and the write are one
// atomic step on the server. Scripts return a status string.
const (
	statusOK             = "OK"
	statusNotFound       = "NOT_FOUND"
	statusExists         = "EXISTS"
	statusFinished       = "FINISHED"
	statusAlreadyStarted = "ALREADY_STARTED"
	statusNotStarted     = "NOT_STARTED"
	statusStale          = "STALE"
	statusNoMore         = "NO_MORE"
	statusFull           = "FULL"
)

// KEYS: room, questions, open set. ARGV: id, public, questions json, field/value pairs...
var createRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 'EXISTS' end
local fields = {}
for i = 4, #ARGV do fields[#fields + 1] = ARGV[i] end
redis.call('HSET', KEYS[1], unpack(fields))
redis.call('SET', KEYS[2], ARGV[3])
if ARGV[2] == '1' then redis.call('SADD', KEYS[3], ARGV[1]) end
return 'OK'
`)

// KEYS: room, open set. ARGV: id, start millis.
var startRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
if redis.call('HGET', KEYS[1], 'finished') == '1' then return 'FINISHED' end
if redis.call('HGET', KEYS[1], 'started') == '1' then return 'ALREADY_STARTED' end
redis.call('HSET', KEYS[1], 'started', '1', 'current_index', '0', 'question_start', ARGV[2])
redis.call('SREM', KEYS[2], ARGV[1])
return 'OK'
`)

// KEYS: room. ARGV: from index, question count, start millis.
var advanceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
if redis.call('HGET', KEYS[1], 'finished') == '1' then return 'FINISHED' end
if redis.call('HGET', KEYS[1], 'started') ~= '1' then return 'NOT_STARTED' end
local current = tonumber(redis.call('HGET', KEYS[1], 'current_index'))
if current ~= tonumber(ARGV[1]) then return 'STALE' end
if current + 1 >= tonumber(ARGV[2]) then return 'NO_MORE' end
redis.call('HSET', KEYS[1], 'current_index', tostring(current + 1), 'question_start', ARGV[3])
return 'OK'
`)

// KEYS: room, finished zset, open set. ARGV: id, finished millis, emergency, reason.
var finishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
if redis.call('HGET', KEYS[1], 'finished') == '1' then return 'FINISHED' end
if ARGV[3] ~= '1' and redis.call('HGET', KEYS[1], 'started') ~= '1' then return 'NOT_STARTED' end
redis.call('HSET', KEYS[1], 'finished', '1', 'finished_at', ARGV[2])
if ARGV[3] == '1' then
  redis.call('HSET', KEYS[1], 'emergency', '1', 'reason', ARGV[4])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
return 'OK'
`)

// KEYS: room, players set, player. ARGV: user id, display name, joined millis.
// Joins are only accepted while the room waits, and never past max_players.
var addPlayerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
if redis.call('HGET', KEYS[1], 'finished') == '1' then return 'FINISHED' end
if redis.call('HGET', KEYS[1], 'started') == '1' then return 'ALREADY_STARTED' end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then
  local max = tonumber(redis.call('HGET', KEYS[1], 'max_players') or '0') or 0
  if max > 0 and redis.call('SCARD', KEYS[2]) >= max then return 'FULL' end
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 1 then
  redis.call('HSET', KEYS[3], 'user_id', ARGV[1], 'display_name', ARGV[2], 'joined_at', ARGV[3],
    'score', '0', 'correct', '0', 'incorrect', '0')
  return 'OK'
end
redis.call('HSET', KEYS[3], 'display_name', ARGV[2])
return 'EXISTS'
`)

// KEYS: player. ARGV: points, correct, millis.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
redis.call('HINCRBY', KEYS[1], 'score', ARGV[1])
if ARGV[2] == '1' then
  redis.call('HINCRBY', KEYS[1], 'correct', 1)
  redis.call('HSET', KEYS[1], 'last_correct_at', ARGV[3])
else
  redis.call('HINCRBY', KEYS[1], 'incorrect', 1)
end
return 'OK'
`)

// KEYS: answer. ARGV: correct, correct index, validated millis.
var finalizeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'NOT_FOUND' end
local v = redis.call('HGET', KEYS[1], 'validated_at')
if v and v ~= '' then return 'EXISTS' end
redis.call('HSET', KEYS[1], 'correct', ARGV[1], 'correct_index', ARGV[2], 'validated_at', ARGV[3])
return 'OK'
`)
