//go:build integration

package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.store = NewRedis(containers.StartRedis(s.T()), "vigil:test:")
}

func (s *RedisStoreSuite) TestPutGetDelete() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Minute))

	item, err := s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Require().NotNil(item)
	s.Equal("v1", item.Value)
	s.WithinDuration(time.Now().Add(time.Minute), item.ExpiresAt, 5*time.Second)

	s.Require().NoError(s.store.Delete(s.ctx, "k1"))
	item, err = s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Nil(item)
}

func (s *RedisStoreSuite) TestTTLExpires() {
	s.Require().NoError(s.store.Put(s.ctx, "short", "v", time.Second))

	time.Sleep(1500 * time.Millisecond)
	item, err := s.store.Get(s.ctx, "short")
	s.Require().NoError(err)
	s.Nil(item)
}

func (s *RedisStoreSuite) TestListByPrefix() {
	s.Require().NoError(s.store.Put(s.ctx, "list:a", "1", time.Minute))
	s.Require().NoError(s.store.Put(s.ctx, "list:b", "2", time.Minute))
	s.Require().NoError(s.store.Put(s.ctx, "other:c", "3", time.Minute))

	items, err := s.store.List(s.ctx, "list:")
	s.Require().NoError(err)
	s.Len(items, 2)
	s.Equal("1", items["list:a"].Value)
	s.Equal("2", items["list:b"].Value)
}
