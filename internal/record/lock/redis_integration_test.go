//go:build integration

package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kycvault/internal/record/lock"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/testutil/containers"
)

type RedisLockSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLockSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockSuite))
}

func (s *RedisLockSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLockSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLockSuite) TestMutualExclusionAcrossLockers() {
	// two lockers stand in for two processes
	a := lock.NewRedis(s.redis.Client, 5*time.Second, 0)
	b := lock.NewRedis(s.redis.Client, 5*time.Second, 0)

	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "kyc:record:pan_number:ABCDE1234F", func(context.Context) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(10 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	s.Equal(int32(1), peak.Load())
}

func (s *RedisLockSuite) TestReleaseFreesTheKey() {
	l := lock.NewRedis(s.redis.Client, time.Second, 0)
	ctx := context.Background()

	s.Require().NoError(l.WithLock(ctx, "k1", func(context.Context) error { return nil }))

	exists, err := s.redis.Client.Exists(ctx, "k1").Result()
	s.Require().NoError(err)
	s.Zero(exists)
}

func (s *RedisLockSuite) TestWaitTimesOut() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.Set(ctx, "k2", "someone-else", time.Minute).Err())

	l := lock.NewRedis(s.redis.Client, 100*time.Millisecond, 0)
	err := l.WithLock(ctx, "k2", func(context.Context) error { return nil })
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))

	held, err := s.redis.Client.Get(ctx, "k2").Result()
	s.Require().NoError(err)
	s.Equal("someone-else", held, "a foreign lock must not be released")
}
