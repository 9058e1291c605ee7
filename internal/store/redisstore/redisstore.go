package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const watermarkKeyPrefix = "matchcore:idgen:"

// raiseScript stores ARGV[1] only when it is larger than the current value,
// so a slow publisher can never move a watermark backwards.
var raiseScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
local v = tonumber(ARGV[1])
if v > cur then
  redis.call("SET", KEYS[1], ARGV[1])
  return v
end
return cur
`)

type Store struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

func NewFromClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func watermarkKey(kind string) string { return watermarkKeyPrefix + kind }

// Load returns the published watermark of kind, or 0 when none exists.
func (s *Store) Load(ctx context.Context, kind string) (int64, error) {
	v, err := s.rdb.Get(ctx, watermarkKey(kind)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("watermark %s: %w", kind, err)
	}
	return n, nil
}

// Store raises the watermark of kind to value.
func (s *Store) Store(ctx context.Context, kind string, value int64) error {
	return raiseScript.Run(ctx, s.rdb, []string{watermarkKey(kind)}, value).Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Close() error { return s.rdb.Close() }
