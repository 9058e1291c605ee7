package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/suPer8Hu/matchcore/internal/idgen"
)

var _ idgen.Watermarks = (*Store)(nil)

func TestWatermarkKey(t *testing.T) {
	assert.Equal(t, "matchcore:idgen:users", watermarkKey("users"))
}

func TestUnreachableRedisReportsErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewFromClient(rdb)
	defer s.Close()

	ctx := context.Background()
	_, err := s.Load(ctx, "users")
	assert.Error(t, err)
	assert.Error(t, s.Store(ctx, "users", 10))

	_, err = New(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
