package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeyIsPerProvider(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.Equal(t, "lock:provider:"+a.String(), lockKey(a))
	assert.NotEqual(t, lockKey(a), lockKey(b))
}

func TestWithProviderLockDoesNotRunFnWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	called := false
	err := NewRedisProviderLocker(client, time.Second).WithProviderLock(ctx, uuid.New(), func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
}
