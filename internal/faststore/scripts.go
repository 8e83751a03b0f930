package faststore

// ScriptRequeueDead atomically moves one dead-letter entry back onto its
// main queue. KEYS[1] = dead list, KEYS[2] = main queue, ARGV[1] = the raw
// dead payload, ARGV[2] = the reset payload to enqueue. Returns the number
// of removed dead entries (0 when the payload was already gone).
const ScriptRequeueDead = `
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
if removed == 1 then
  redis.call('LPUSH', KEYS[2], ARGV[2])
end
return removed
`

// ScriptPromoteDue moves due delayed jobs onto their main queue. KEYS[1] =
// delayed sorted set, KEYS[2] = main queue, ARGV[1] = now in unix ms,
// ARGV[2] = max jobs to move. Each job is removed and pushed in the same
// script execution, so a job is never observable in both places.
const ScriptPromoteDue = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, job in ipairs(due) do
  if redis.call('ZREM', KEYS[1], job) == 1 then
    redis.call('LPUSH', KEYS[2], job)
    moved = moved + 1
  end
end
return moved
`
