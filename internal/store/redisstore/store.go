// Package redisstore holds the redis-backed pieces: the visitor resume
// index and the fixed-window rate limiter. Both are accelerators; the
// durable store stays authoritative and survives redis being gone.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
	// resume entries slide with the same retention window as sessions so
	// the index never outlives what it points at by much.
	resumeTTL time.Duration
}

func New(addr, password string, db int, resumeTTL time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Store{client: client, resumeTTL: resumeTTL}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func resumeKey(visitorID string) string { return "chat:visitor:" + visitorID }

// Get returns the session ID indexed for a visitor, "" when none. The TTL
// is refreshed on read (sliding expiration).
func (s *Store) Get(ctx context.Context, visitorID string) (string, error) {
	val, err := s.client.Get(ctx, resumeKey(visitorID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	_ = s.client.Expire(ctx, resumeKey(visitorID), s.resumeTTL).Err()
	return val, nil
}

func (s *Store) Set(ctx context.Context, visitorID, sessionID string) error {
	return s.client.Set(ctx, resumeKey(visitorID), sessionID, s.resumeTTL).Err()
}

// Allow implements a fixed-window counter: INCR and EXPIRE run atomically
// in a Lua script so the first request in a window always arms the expiry.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	const script = `
		local current = redis.call("INCR", KEYS[1])
		if current == 1 then
			redis.call("EXPIRE", KEYS[1], ARGV[2])
		end
		if current > tonumber(ARGV[1]) then
			return 0
		end
		return 1
	`
	res, err := s.client.Eval(ctx, script, []string{"chat:ratelimit:" + key}, limit, int(window.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
