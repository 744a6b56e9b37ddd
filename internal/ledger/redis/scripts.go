package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS[1]: счётчик остатка, например flashorder:stock:{42}
// KEYS[2]: hash резервов, например flashorder:stock:locked:{42}
// ARGV[1]: количество
// ARGV[2]: deduction_id
var reserveScript = goredis.NewScript(`
local quantity = tonumber(ARGV[1])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')

if current >= quantity then
    redis.call('DECRBY', KEYS[1], quantity)
    redis.call('HINCRBY', KEYS[2], ARGV[2], quantity)
    return 1
end

return 0
`)

// KEYS[1]: счётчик остатка
// KEYS[2]: hash резервов
// ARGV[1]: deduction_id
var releaseScript = goredis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[2], ARGV[1]))

if reserved then
    redis.call('INCRBY', KEYS[1], reserved)
    redis.call('HDEL', KEYS[2], ARGV[1])
    return 1
end

return 0
`)
