package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"llm-ensemble/internal/ensemble"
)

const (
	// Key prefix for cached results
	resultKeyPrefix = "ensemble:result:"

	// Insertion-order list used for FIFO eviction
	orderKey = "ensemble:order"

	statsKey = "ensemble:stats"
)

// RedisCache shares results across processes. Eviction follows the same FIFO rule as Memory, tracked
// with a Redis list of keys in insertion order that is only ever changed inside Lua scripts.
type RedisCache struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

// NewRedisCache creates a new Redis cache client. A zero ttl keeps entries until evicted.
func NewRedisCache(addr, password string, capacity int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisCache{
		client:   client,
		capacity: capacity,
		ttl:      ttl,
	}, nil
}

func (c *RedisCache) Get(ctx context.Context, query string, strategy ensemble.Strategy) (*ensemble.Result, error) {
	data, err := c.client.Get(ctx, resultKeyPrefix+Key(query, strategy)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.client.HIncrBy(ctx, statsKey, "misses", 1)
		return nil, nil // Cache miss
	}
	if err != nil {
		return nil, err
	}

	var result ensemble.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	c.client.HIncrBy(ctx, statsKey, "hits", 1)
	return &result, nil
}

// putScript stores a value and maintains the insertion-order list in one atomic step.
// A key that is absent from the value space (new, or expired through the TTL) is removed from
// the list before being appended, so the list never holds duplicates. Stale list entries are
// pruned before evicting, so only live entries count against the capacity.
//
// KEYS: result key, order list, stats hash. ARGV: value, ttl in ms (0 = none), capacity.
var putScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
end
if existed == 1 then
  return 0
end
redis.call('LREM', KEYS[2], 0, KEYS[1])
redis.call('RPUSH', KEYS[2], KEYS[1])
local capacity = tonumber(ARGV[3])
if redis.call('LLEN', KEYS[2]) <= capacity then
  return 0
end
for _, k in ipairs(redis.call('LRANGE', KEYS[2], 0, -1)) do
  if redis.call('EXISTS', k) == 0 then
    redis.call('LREM', KEYS[2], 0, k)
  end
end
local evicted = 0
while redis.call('LLEN', KEYS[2]) > capacity do
  local oldest = redis.call('LPOP', KEYS[2])
  evicted = evicted + redis.call('DEL', oldest)
end
if evicted > 0 then
  redis.call('HINCRBY', KEYS[3], 'evictions', evicted)
end
return evicted
`)

// liveScript drops expired keys from the order list and returns how many entries remain.
//
// KEYS: order list.
var liveScript = redis.NewScript(`
for _, k in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
  if redis.call('EXISTS', k) == 0 then
    redis.call('LREM', KEYS[1], 0, k)
  end
end
return redis.call('LLEN', KEYS[1])
`)

// Put stores result. Re-putting a live key replaces the value and keeps its original position.
func (c *RedisCache) Put(ctx context.Context, query string, strategy ensemble.Strategy, result *ensemble.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	key := resultKeyPrefix + Key(query, strategy)
	keys := []string{key, orderKey, statsKey}
	return putScript.Run(ctx, c.client, keys, data, c.ttl.Milliseconds(), c.capacity).Err()
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	n, err := liveScript.Run(ctx, c.client, []string{orderKey}).Int64()
	if err != nil {
		return Stats{}, err
	}
	counters, err := c.client.HGetAll(ctx, statsKey).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Entries:   int(n),
		Capacity:  c.capacity,
		Hits:      parseCounter(counters["hits"]),
		Misses:    parseCounter(counters["misses"]),
		Evictions: parseCounter(counters["evictions"]),
	}, nil
}

// Clear removes all cached results.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, resultKeyPrefix+"*", 0).Iterator()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, orderKey)
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the cache connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
