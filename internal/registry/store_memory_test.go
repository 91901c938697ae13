package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	now   time.Time
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemory(WithClock(func() time.Time { return s.now }))
}

func (s *InMemoryStoreSuite) TestPutGetRoundTrip() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Minute))

	item, err := s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Require().NotNil(item)
	s.Equal("v1", item.Value)
	s.Equal(s.now.Add(time.Minute), item.ExpiresAt)
}

func (s *InMemoryStoreSuite) TestGetMissingReturnsNil() {
	item, err := s.store.Get(s.ctx, "absent")
	s.Require().NoError(err)
	s.Nil(item)
}

func (s *InMemoryStoreSuite) TestPutRejectsNonPositiveTTL() {
	s.Error(s.store.Put(s.ctx, "k1", "v1", 0))
	s.Error(s.store.Put(s.ctx, "k1", "v1", -time.Second))
}

func (s *InMemoryStoreSuite) TestExpiryIsLazy() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Minute))

	s.now = s.now.Add(61 * time.Second)
	item, err := s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Nil(item)
	s.Equal(0, s.store.Len())
}

func (s *InMemoryStoreSuite) TestOverwriteResetsTTL() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Minute))
	s.now = s.now.Add(50 * time.Second)
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v2", time.Minute))

	s.now = s.now.Add(30 * time.Second)
	item, err := s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Require().NotNil(item)
	s.Equal("v2", item.Value)
}

func (s *InMemoryStoreSuite) TestDelete() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Minute))
	s.Require().NoError(s.store.Delete(s.ctx, "k1"))

	item, err := s.store.Get(s.ctx, "k1")
	s.Require().NoError(err)
	s.Nil(item)

	// Deleting an absent key is a no-op.
	s.NoError(s.store.Delete(s.ctx, "k1"))
}

func (s *InMemoryStoreSuite) TestListFiltersByPrefixAndExpiry() {
	s.Require().NoError(s.store.Put(s.ctx, "a:1", "v1", time.Minute))
	s.Require().NoError(s.store.Put(s.ctx, "a:2", "v2", time.Second))
	s.Require().NoError(s.store.Put(s.ctx, "b:1", "v3", time.Minute))

	s.now = s.now.Add(2 * time.Second)
	items, err := s.store.List(s.ctx, "a:")
	s.Require().NoError(err)
	s.Len(items, 1)
	s.Equal("v1", items["a:1"].Value)
}

func (s *InMemoryStoreSuite) TestSweepEvictsExpired() {
	s.Require().NoError(s.store.Put(s.ctx, "k1", "v1", time.Second))
	s.Require().NoError(s.store.Put(s.ctx, "k2", "v2", time.Hour))

	s.now = s.now.Add(2 * time.Second)
	evicted, err := s.store.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, evicted)
	s.Equal(1, s.store.Len())
}
