// Package redisstore backs the shared rate-limit counters and slot holds with Redis
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"booking-service/internal/ratelimit"
)

// Connect parses url, pings the server and returns the client
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// hitScript starts a new window when the stored one has elapsed, then increments.
// KEYS[1]=key ARGV[1]=now ms ARGV[2]=window ms. Returns {count, windowStart, lastSent}.
var hitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
if (not start) or now > start + window then
  redis.call('DEL', KEYS[1])
  start = now
  redis.call('HSET', KEYS[1], 'start', start)
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSET', KEYS[1], 'last', now)
local ttl = start + window - now + 1000
if ttl < 1 then ttl = 1 end
redis.call('PEXPIRE', KEYS[1], ttl)
return {count, start, now}
`)

// RateStore implements ratelimit.Store
type RateStore struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

var _ ratelimit.Store = (*RateStore)(nil)

// NewRateStore namespaces every key under prefix
func NewRateStore(client redis.Cmdable, prefix string) *RateStore {
	return &RateStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RateStore) Hit(ctx context.Context, key string, window time.Duration) (ratelimit.Entry, error) {
	res, err := hitScript.Run(ctx, s.client, []string{s.prefix + key},
		s.now().UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Entry{}, fmt.Errorf("rate hit %s: %w", key, err)
	}
	if len(res) != 3 {
		return ratelimit.Entry{}, fmt.Errorf("rate hit %s: unexpected reply %v", key, res)
	}
	return ratelimit.Entry{
		Key:         key,
		Count:       int(res[0]),
		WindowStart: time.UnixMilli(res[1]),
		LastSentAt:  time.UnixMilli(res[2]),
	}, nil
}

func (s *RateStore) Peek(ctx context.Context, key string, window time.Duration) (ratelimit.Entry, bool, error) {
	m, err := s.client.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return ratelimit.Entry{}, false, fmt.Errorf("rate peek %s: %w", key, err)
	}
	if len(m) == 0 {
		return ratelimit.Entry{}, false, nil
	}
	e := ratelimit.Entry{Key: key}
	e.Count, _ = strconv.Atoi(m["count"])
	if ms, err := strconv.ParseInt(m["start"], 10, 64); err == nil {
		e.WindowStart = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(m["last"], 10, 64); err == nil {
		e.LastSentAt = time.UnixMilli(ms)
	}
	if e.Expired(s.now(), window) {
		return ratelimit.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *RateStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate reset %s: %w", key, err)
	}
	return nil
}

// HoldStore implements booking.HoldStore with SET NX PX
type HoldStore struct {
	client redis.Cmdable
	prefix string
}

// NewHoldStore namespaces holds under prefix
func NewHoldStore(client redis.Cmdable, prefix string) *HoldStore {
	return &HoldStore{client: client, prefix: prefix}
}

// Acquire reports false when another owner holds key
func (h *HoldStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := h.client.SetNX(ctx, h.prefix+key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire hold %s: %w", key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Release drops key only if owner still holds it
func (h *HoldStore) Release(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, h.client, []string{h.prefix + key}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release hold %s: %w", key, err)
	}
	return nil
}
